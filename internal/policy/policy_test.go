package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seslattery/hostgate/internal/allowlist"
)

func mustPolicy(t *testing.T, hosts []string, allowEmpty bool) *Policy {
	t.Helper()
	list, err := allowlist.Resolve(hosts, nil)
	require.NoError(t, err)
	p, err := New(list, allowEmpty)
	require.NoError(t, err)
	return p
}

func TestPolicy_Evaluate(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		host    string
		verdict Verdict
		reason  Reason
	}{
		// Case
		{"lowercase pattern uppercase host", []string{"localhost"}, "LOCALHOST", Allow, ExactMatch},
		{"uppercase pattern lowercase host", []string{"LOCALHOST"}, "localhost", Allow, ExactMatch},
		{"mixed case wildcard", []string{"*.Example.com"}, "Foo.EXAMPLE.com", Allow, WildcardMatch},
		{"kelvin sign not folded to k", []string{"kitten.com"}, "\u212Aitten.com", Deny, NoMatch},
		{"kelvin sign not folded in wildcard", []string{"*.kitten.com"}, "a.\u212Aitten.com", Deny, NoMatch},
		{"kelvin sign against both patterns", []string{"kitten.com", "*.kitten.com"}, "\u212Aitten.com:443", Deny, NoMatch},
		{"non-ascii compared exactly", []string{"*.kitten.com"}, "\u212A.KITTEN.com", Allow, WildcardMatch},

		// Ports
		{"port stripped", []string{"example.com"}, "example.com:8080", Allow, ExactMatch},
		{"pattern with port never matches", []string{"example.com:8080"}, "example.com:8080", Deny, NoMatch},
		{"empty port", []string{"example.com"}, "example.com:", Allow, ExactMatch},
		{"leading colon not a separator", []string{"example.com"}, ":8080", Deny, NoMatch},
		{"whitespace trimmed", []string{"example.com"}, "  example.com:80 ", Allow, ExactMatch},

		// Subdomain wildcards
		{"subdomain", []string{"*.example.com"}, "foo.example.com", Allow, WildcardMatch},
		{"deep subdomain", []string{"*.example.com"}, "a.b.example.com", Allow, WildcardMatch},
		{"subdomain with port", []string{"*.example.com"}, "foo.example.com:443", Allow, WildcardMatch},
		{"bare parent excluded", []string{"*.example.com"}, "example.com", Deny, NoMatch},
		{"dot parent excluded", []string{"*.example.com"}, ".example.com", Deny, NoMatch},
		{"suffix attack", []string{"*.example.com"}, "foo.example.com.evil", Deny, NoMatch},
		{"prefix attack", []string{"*.example.com"}, "evilexample.com", Deny, NoMatch},
		{"glob metacharacters literal", []string{"*.ex[a]mple.com"}, "foo.exampl.com", Deny, NoMatch},
		{"glob metacharacters matched literally", []string{"*.ex[a]mple.com"}, "foo.ex[a]mple.com", Allow, WildcardMatch},
		{"inner star literal", []string{"*.*.example.com"}, "a.b.example.com", Deny, NoMatch},

		// IPv6
		{"ipv6 with port", []string{"[::1]"}, "[::1]:80", Allow, ExactMatch},
		{"ipv6 without port", []string{"[::1]"}, "[::1]", Allow, ExactMatch},
		{"ipv6 missing closing bracket", []string{"[::1]"}, "[::1:80", Deny, MalformedIPv6},
		{"ipv6 unbracketed", []string{"[::1]"}, "::1", Deny, NoMatch},
		{"ipv6 full", []string{"[2001:db8::1]"}, "[2001:DB8::1]:8443", Allow, ExactMatch},

		// IPv4
		{"ipv4 with port", []string{"127.0.0.1"}, "127.0.0.1:5000", Allow, ExactMatch},

		// Punycode
		{"punycode host matches unicode pattern", []string{"bücher.example"}, "xn--bcher-kva.example", Allow, ExactMatch},
		{"punycode subdomain", []string{"*.bücher.example"}, "www.xn--bcher-kva.example", Allow, WildcardMatch},

		{"no match", []string{"example.com", "*.example.org"}, "other.test", Deny, NoMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustPolicy(t, tt.allowed, false)
			d := p.Evaluate(tt.host, true)
			require.Equal(t, tt.verdict, d.Verdict, "decision %+v", d)
			require.Equal(t, tt.reason, d.Reason, "decision %+v", d)
			require.Equal(t, tt.verdict == Allow, d.Allowed())
		})
	}
}

func TestPolicy_EvaluateReportsHostAndPattern(t *testing.T) {
	p := mustPolicy(t, []string{"Example.com", "*.example.org"}, false)

	d := p.Evaluate("EXAMPLE.com:8080", true)
	require.Equal(t, "EXAMPLE.com", d.Host)
	require.Equal(t, "example.com", d.Pattern)

	d = p.Evaluate("api.example.org", true)
	require.Equal(t, "api.example.org", d.Host)
	require.Equal(t, "*.example.org", d.Pattern)

	d = p.Evaluate("nope.test:1", true)
	require.Equal(t, "nope.test", d.Host)
	require.Empty(t, d.Pattern)
}

func TestPolicy_FirstMatchingPatternWins(t *testing.T) {
	p := mustPolicy(t, []string{"*.example.com", "www.example.com"}, false)

	d := p.Evaluate("www.example.com", true)
	require.Equal(t, WildcardMatch, d.Reason)
	require.Equal(t, "*.example.com", d.Pattern)
}

func TestPolicy_EmptyHosts(t *testing.T) {
	tests := []struct {
		name       string
		allowEmpty bool
		raw        string
		present    bool
		verdict    Verdict
		reason     Reason
	}{
		{"absent allowed", true, "", false, Allow, EmptyHostAllowed},
		{"absent denied", false, "", false, Deny, EmptyHostDenied},
		{"empty allowed", true, "", true, Allow, EmptyHostAllowed},
		{"empty denied", false, "", true, Deny, EmptyHostDenied},
		{"whitespace allowed", true, "  \t", true, Allow, EmptyHostAllowed},
		{"whitespace denied", false, " ", true, Deny, EmptyHostDenied},
	}

	lists := map[string]allowlist.AllowList{"any": allowlist.Any()}
	patterns, err := allowlist.Resolve([]string{"example.com"}, nil)
	require.NoError(t, err)
	lists["patterns"] = patterns

	for listName, list := range lists {
		for _, tt := range tests {
			t.Run(listName+"/"+tt.name, func(t *testing.T) {
				d := Evaluate(tt.raw, tt.present, list, tt.allowEmpty)
				require.Equal(t, tt.verdict, d.Verdict)
				require.Equal(t, tt.reason, d.Reason)
			})
		}
	}
}

func TestPolicy_AnyHost(t *testing.T) {
	list, err := allowlist.Resolve([]string{"*", "example.com"}, nil)
	require.NoError(t, err)
	require.True(t, list.IsAny())

	for _, host := range []string{"anything.test", "example.com", "[::1:80", "a:b:c"} {
		d := Evaluate(host, true, list, false)
		require.Equal(t, Allow, d.Verdict, host)
		require.Equal(t, AnyHost, d.Reason, host)
	}
}

func TestPolicy_ResolutionDeterminism(t *testing.T) {
	hosts := []string{"*.example.com", "Example.org", "[::1]"}
	requests := []string{"a.example.com", "example.com", "EXAMPLE.ORG:1", "[::1]:80", "evil.test"}

	first := mustPolicy(t, hosts, false)
	second := mustPolicy(t, hosts, false)
	for _, host := range requests {
		require.Equal(t, first.Evaluate(host, true).Verdict, second.Evaluate(host, true).Verdict, host)
	}
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"example.com", "example.com", true},
		{"example.com:80", "example.com", true},
		{"example.com:", "example.com", true},
		{":80", ":80", true},
		{"[::1]", "[::1]", true},
		{"[::1]:80", "[::1]", true},
		{"[::1]:", "[::1]", true},
		{"[::1", "", false},
		{"[::1:80", "", false},
		{"[", "", false},
		{"a:b:c", "a:b", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := SplitHostPort(tt.in)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestReasonString(t *testing.T) {
	require.Equal(t, "malformed_ipv6", MalformedIPv6.String())
	require.Equal(t, "wildcard_match", WildcardMatch.String())
	require.Equal(t, "reason(42)", Reason(42).String())
	require.Equal(t, "allow", Allow.String())
	require.Equal(t, "deny", Deny.String())
}

func BenchmarkPolicy_Evaluate(b *testing.B) {
	list, err := allowlist.Resolve([]string{"example.com", "*.example.org", "[::1]", "localhost"}, nil)
	if err != nil {
		b.Fatal(err)
	}
	p, err := New(list, false)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Evaluate("api.v1.example.org:8443", true)
	}
}
