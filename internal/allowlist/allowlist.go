// Package allowlist resolves the set of host patterns a server answers for.
package allowlist

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// ErrNoAllowedHosts is returned when neither configured hosts nor discovered
// server addresses yield a single allowed host.
var ErrNoAllowedHosts = errors.New("no allowed hosts configured")

// Source names where candidate hosts were taken from.
type Source string

const (
	SourceConfigured Source = "configured"
	SourceDiscovered Source = "discovered"
)

// ConfigError is a fatal resolution failure.
type ConfigError struct {
	Source Source
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("resolving %s hosts: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// anyHostTokens disable filtering when they appear anywhere in the candidates.
var anyHostTokens = map[string]struct{}{
	"*":       {},
	"[::]":    {},
	"0.0.0.0": {},
}

// AllowList is either "any non-empty host" or an ordered list of patterns.
// Use Any or Resolve to build one; the zero value allows nothing.
type AllowList struct {
	any      bool
	patterns []string
}

// Any returns the list that permits every non-empty host.
func Any() AllowList {
	return AllowList{any: true}
}

// IsAny reports whether the list permits every non-empty host.
func (l AllowList) IsAny() bool { return l.any }

// Patterns returns a copy of the resolved patterns. It is nil for Any.
func (l AllowList) Patterns() []string {
	if l.any {
		return nil
	}
	out := make([]string, len(l.patterns))
	copy(out, l.patterns)
	return out
}

func (l AllowList) String() string {
	if l.any {
		return "*"
	}
	return strings.Join(l.patterns, ",")
}

// Resolve builds an AllowList. Configured hosts take precedence; when there
// are none, the host component of each discovered server address is used.
func Resolve(configured, discovered []string) (AllowList, error) {
	source := SourceConfigured
	candidates := configured
	if len(configured) == 0 {
		source = SourceDiscovered
		candidates = make([]string, 0, len(discovered))
		for _, addr := range discovered {
			if host, ok := HostFromAddress(addr); ok {
				candidates = append(candidates, host)
			}
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	patterns := make([]string, 0, len(candidates))
	for _, c := range candidates {
		host := Normalize(c)
		if host == "" {
			continue
		}
		if _, ok := anyHostTokens[host]; ok {
			return Any(), nil
		}
		key := LowerASCII(host)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		patterns = append(patterns, key)
	}

	if len(patterns) == 0 {
		return AllowList{}, &ConfigError{Source: source, Err: ErrNoAllowedHosts}
	}
	return AllowList{patterns: patterns}, nil
}

// Normalize trims host and converts unicode labels to their punycode form,
// which is what a Host header carries on the wire. Values that fail
// conversion are returned trimmed but otherwise untouched.
func Normalize(host string) string {
	host = strings.TrimSpace(host)
	if isASCII(host) {
		return host
	}
	ascii, err := idna.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}

// HostFromAddress extracts the host of a bound address such as
// "http://127.0.0.1:8080" or "https://[::1]:443". IPv6 hosts keep their
// brackets. Addresses without a scheme are read as http.
func HostFromAddress(addr string) (string, bool) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", false
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", false
	}
	host := u.Hostname()
	if host == "" {
		return "", false
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host, true
}

// LowerASCII lowercases the letters A-Z and leaves every other byte alone,
// so non-ASCII text only ever compares equal to itself.
func LowerASCII(s string) string {
	i := 0
	for i < len(s) && !isUpperASCII(s[i]) {
		i++
	}
	if i == len(s) {
		return s
	}
	b := []byte(s)
	for ; i < len(b); i++ {
		if isUpperASCII(b[i]) {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// EqualFoldASCII reports whether a and b are equal when only A-Z are folded.
func EqualFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		x, y := a[i], b[i]
		if isUpperASCII(x) {
			x += 'a' - 'A'
		}
		if isUpperASCII(y) {
			y += 'a' - 'A'
		}
		if x != y {
			return false
		}
	}
	return true
}

func isUpperASCII(c byte) bool { return 'A' <= c && c <= 'Z' }

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
