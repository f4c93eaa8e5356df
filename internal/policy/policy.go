// Package policy evaluates request Host headers against an allow-list.
package policy

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/seslattery/hostgate/internal/allowlist"
)

// Verdict is the outcome of an evaluation.
type Verdict int

const (
	Deny Verdict = iota
	Allow
)

func (v Verdict) String() string {
	if v == Allow {
		return "allow"
	}
	return "deny"
}

// Reason explains a Decision.
type Reason int

const (
	NoMatch Reason = iota
	EmptyHostAllowed
	EmptyHostDenied
	AnyHost
	ExactMatch
	WildcardMatch
	MalformedIPv6
)

var reasonNames = [...]string{
	NoMatch:          "no_match",
	EmptyHostAllowed: "empty_host_allowed",
	EmptyHostDenied:  "empty_host_denied",
	AnyHost:          "any_host",
	ExactMatch:       "exact_match",
	WildcardMatch:    "wildcard_match",
	MalformedIPv6:    "malformed_ipv6",
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("reason(%d)", int(r))
	}
	return reasonNames[r]
}

// Decision is the result of evaluating one Host header.
type Decision struct {
	Verdict Verdict
	Reason  Reason
	// Host is the trimmed host with any port removed. Empty for empty or
	// malformed headers.
	Host string
	// Pattern is the allow-list entry that matched, if any.
	Pattern string
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool { return d.Verdict == Allow }

type rule struct {
	pattern string
	suffix  glob.Glob // nil for exact patterns
}

// Policy evaluates hosts against a resolved allow-list. It is immutable and
// safe for concurrent use.
type Policy struct {
	any             bool
	rules           []rule
	allowEmptyHosts bool
}

// New compiles an allow-list into a Policy.
func New(list allowlist.AllowList, allowEmptyHosts bool) (*Policy, error) {
	p := &Policy{any: list.IsAny(), allowEmptyHosts: allowEmptyHosts}
	if p.any {
		return p, nil
	}

	for _, pattern := range list.Patterns() {
		r := rule{pattern: pattern}
		if strings.HasPrefix(pattern, "*.") {
			// "*.example.com" matches anything ending in ".example.com".
			g, err := glob.Compile("*" + glob.QuoteMeta(allowlist.LowerASCII(pattern[1:])))
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
			}
			r.suffix = g
		}
		p.rules = append(p.rules, r)
	}
	return p, nil
}

// Evaluate decides whether a Host header value is allowed. present is false
// when the request carried no Host header at all.
func (p *Policy) Evaluate(raw string, present bool) Decision {
	host := ""
	if present {
		host = strings.TrimSpace(raw)
	}

	// HTTP/1.0 omits Host and HTTP/1.1 allows it to be empty.
	if host == "" {
		if p.allowEmptyHosts {
			return Decision{Verdict: Allow, Reason: EmptyHostAllowed}
		}
		return Decision{Verdict: Deny, Reason: EmptyHostDenied}
	}

	if p.any {
		return Decision{Verdict: Allow, Reason: AnyHost, Host: host}
	}

	host, ok := SplitHostPort(host)
	if !ok {
		return Decision{Verdict: Deny, Reason: MalformedIPv6}
	}

	for _, r := range p.rules {
		if allowlist.EqualFoldASCII(host, r.pattern) {
			return Decision{Verdict: Allow, Reason: ExactMatch, Host: host, Pattern: r.pattern}
		}
		// The length check keeps "*.example.com" from matching ".example.com".
		if r.suffix != nil && len(host) >= len(r.pattern) && r.suffix.Match(allowlist.LowerASCII(host)) {
			return Decision{Verdict: Allow, Reason: WildcardMatch, Host: host, Pattern: r.pattern}
		}
	}

	return Decision{Verdict: Deny, Reason: NoMatch, Host: host}
}

// Evaluate is a one-off evaluation for callers that do not keep a Policy.
func Evaluate(raw string, present bool, list allowlist.AllowList, allowEmptyHosts bool) Decision {
	p, err := New(list, allowEmptyHosts)
	if err != nil {
		return Decision{Verdict: Deny, Reason: NoMatch}
	}
	return p.Evaluate(raw, present)
}

// SplitHostPort removes a trailing ":port" from host. Bracketed IPv6
// literals keep their brackets; a colon inside the brackets is never taken
// as a port separator. It returns false when an opening bracket has no
// closing one.
func SplitHostPort(host string) (string, bool) {
	colon := strings.LastIndexByte(host, ':')
	if strings.HasPrefix(host, "[") {
		end := strings.IndexByte(host, ']')
		if end < 0 {
			return "", false
		}
		if colon < end {
			return host, true
		}
	}
	if colon > 0 {
		host = host[:colon]
	}
	return host, true
}
