package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern_Classification(t *testing.T) {
	tests := []struct {
		in        string
		kind      PatternKind
		canonical string
	}{
		{"%*.example.com%", PatternGlob, "%*.example.com%"},
		{"/spam[0-9]+/", PatternRegex, "/spam[0-9]+/"},
		{"10.0.0.0/8", PatternCidr, "10.0.0.0/8"},
		{"2001:db8::/32", PatternCidr, "2001:db8::/32"},
		{"192.0.2.1", PatternIPAddr, "192.0.2.1"},
		{"2001:DB8::1", PatternIPAddr, "2001:db8::1"},
		{"::ffff:192.0.2.1", PatternIPAddr, "192.0.2.1"},
		{"Example.COM.", PatternDomain, "example.com"},
		{"  mail.example.net  ", PatternDomain, "mail.example.net"},
		{"foo/bar", PatternDomain, "foo/bar"},
		{"%", PatternDomain, "%"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePattern(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Kind())
			assert.Equal(t, tt.canonical, p.String())
		})
	}
}

func TestParsePattern_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"%%",
		"//",
		"/[unclosed/",
		"10.0.0.1/8",
		"10.0.0.0/33",
		"2001:db8::1/32",
		".",
		"%[%",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParsePattern(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPattern)
		})
	}
}

func TestParsePattern_Annotations(t *testing.T) {
	p, err := ParsePattern("10.0.0.0/8 [cidr]")
	require.NoError(t, err)
	assert.Equal(t, PatternCidr, p.Kind())

	p, err = ParsePattern("192.0.2.7 [ip]")
	require.NoError(t, err)
	assert.Equal(t, PatternIPAddr, p.Kind())

	_, err = ParsePattern("example.com [ip]")
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = ParsePattern("192.0.2.7 [cidr]")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestPattern_RenderRoundTrip(t *testing.T) {
	for _, in := range []string{
		"%*.example.com%",
		"/^mx[0-9]\\./",
		"10.0.0.0/8",
		"2001:db8::/32",
		"192.0.2.1",
		"2001:db8::53",
		"example.com",
	} {
		t.Run(in, func(t *testing.T) {
			p := MustParsePattern(in)
			again, err := ParsePattern(p.Render())
			require.NoError(t, err)
			assert.True(t, EquivalentPatterns(p, again), "%s vs %s", p.Render(), again.Render())

			again, err = ParsePattern(p.String())
			require.NoError(t, err)
			assert.True(t, EquivalentPatterns(p, again))
		})
	}
}

func TestPattern_RenderAnnotations(t *testing.T) {
	assert.Equal(t, "10.0.0.0/8 [cidr]", MustParsePattern("10.0.0.0/8").Render())
	assert.Equal(t, "192.0.2.1 [ip]", MustParsePattern("192.0.2.1").Render())
	assert.Equal(t, "%*.bad%", MustParsePattern("%*.bad%").Render())
	assert.Equal(t, "/bad/", MustParsePattern("/bad/").Render())
	assert.Equal(t, "example.com", MustParsePattern("example.com.").Render())
}

func TestNewPattern(t *testing.T) {
	p, err := NewPattern("*.example.com", PatternGlob)
	require.NoError(t, err)
	assert.Equal(t, "*.example.com", p.Raw())
	assert.True(t, p.Matches("mx.example.com"))

	p, err = NewPattern("10.0.0.0/8", PatternCidr)
	require.NoError(t, err)
	assert.Equal(t, PatternCidr, p.Kind())

	// a persisted domain keeps its kind even when it looks like an address
	p, err = NewPattern("192.0.2.1", PatternDomain)
	require.NoError(t, err)
	assert.Equal(t, PatternDomain, p.Kind())

	_, err = NewPattern("x", PatternKind(9))
	assert.ErrorIs(t, err, ErrUnknownPatternKind)

	_, err = NewPattern("10.0.0.1/8", PatternCidr)
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestDomainPattern_Matches(t *testing.T) {
	p := MustParsePattern("example.com")
	assert.True(t, p.Matches("example.com"))
	assert.True(t, p.Matches("example.com."))
	assert.True(t, p.Matches("EXAMPLE.com"))
	assert.False(t, p.Matches("mail.example.com"))
	assert.False(t, p.Matches("example.co"))
	assert.False(t, p.Matches(""))
}

func TestGlobPattern_Matches(t *testing.T) {
	p := MustParsePattern("%*.example.com%")
	assert.True(t, p.Matches("mail.example.com"))
	assert.True(t, p.Matches("a.b.example.com"))
	assert.True(t, p.Matches("MAIL.EXAMPLE.COM"))
	assert.False(t, p.Matches("example.com"))
	assert.False(t, p.Matches("mail.example.com.evil"))

	q := MustParsePattern("%mx?.[ab]*%")
	assert.True(t, q.Matches("mx1.alpha.net"))
	assert.False(t, q.Matches("mx12.alpha.net"))
	assert.False(t, q.Matches("mx1.charlie.net"))
}

func TestGlobPattern_MatchesAnySuffix(t *testing.T) {
	tests := []struct {
		glob      string
		candidate string
		want      bool
	}{
		{"%spam.test%", "spam.test", true},
		{"%spam.test%", "mail.spam.test", true},
		{"%spam.test%", "nospam.test", true},
		{"%spam.test%", "spam.test.example", false},
		{"%evil.*%", "mx.evil.net", true},
		{"%evil.*%", "evil", false},
		{"%*.example.com%", "mail.example.com.evil.org", false},
		{"%mx?.[ab]*%", "relay.mx1.alpha.net", true},
	}
	for _, tt := range tests {
		t.Run(tt.glob+" "+tt.candidate, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParsePattern(tt.glob).Matches(tt.candidate))
		})
	}
}

func TestRegexPattern_Matches(t *testing.T) {
	p := MustParsePattern("/spam/")
	assert.True(t, p.Matches("myspamhost.net"))
	assert.True(t, p.Matches("SPAM.example"))
	assert.False(t, p.Matches("ham.example"))

	anchored := MustParsePattern(`/\.ru$/`)
	assert.True(t, anchored.Matches("mail.yandex.ru"))
	assert.False(t, anchored.Matches("ru.example.com"))
}

func TestCidrPattern_Matches(t *testing.T) {
	p := MustParsePattern("10.0.0.0/8")
	assert.True(t, p.Matches("10.1.2.3"))
	assert.True(t, p.Matches("::ffff:10.1.2.3"))
	assert.False(t, p.Matches("11.0.0.1"))
	assert.False(t, p.Matches("mail.example.com"))
	assert.False(t, p.Matches("2001:db8::1"))

	v6 := MustParsePattern("2001:db8::/32")
	assert.True(t, v6.Matches("2001:db8:ffff::1"))
	assert.False(t, v6.Matches("2001:db9::1"))
	assert.False(t, v6.Matches("10.0.0.1"))
}

func TestIPPattern_Matches(t *testing.T) {
	p := MustParsePattern("192.0.2.1")
	assert.True(t, p.Matches("192.0.2.1"))
	assert.True(t, p.Matches("::ffff:192.0.2.1"))
	assert.False(t, p.Matches("192.0.2.2"))
	assert.False(t, p.Matches("not-an-ip"))

	v6 := MustParsePattern("2001:db8::1")
	assert.True(t, v6.Matches("2001:0db8:0000::0001"))
}

func TestPatternKind_StringAndParse(t *testing.T) {
	for k := PatternDomain; k <= PatternIPAddr; k++ {
		assert.True(t, k.IsValid())
		parsed, err := ParsePatternKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	assert.False(t, PatternKind(5).IsValid())
	assert.Equal(t, "PatternKind(7)", PatternKind(7).String())

	_, err := ParsePatternKind("suffix")
	assert.True(t, errors.Is(err, ErrUnknownPatternKind))
}

func TestExactKeyAndCandidateKeys(t *testing.T) {
	k, ok := ExactKey(MustParsePattern("Example.com."))
	assert.True(t, ok)
	assert.Equal(t, "example.com", k)

	k, ok = ExactKey(MustParsePattern("::ffff:192.0.2.1"))
	assert.True(t, ok)
	assert.Equal(t, "192.0.2.1", k)

	_, ok = ExactKey(MustParsePattern("%*.x%"))
	assert.False(t, ok)

	assert.Equal(t, []string{"mail.example.com"}, CandidateKeys("MAIL.example.com."))
	assert.Equal(t, []string{"192.0.2.1"}, CandidateKeys("192.0.2.1"))
	assert.Equal(t, []string{"::ffff:192.0.2.1", "192.0.2.1"}, CandidateKeys("::ffff:192.0.2.1"))
}

func TestEquivalentPatterns(t *testing.T) {
	assert.True(t, EquivalentPatterns(MustParsePattern("example.com"), MustParsePattern("EXAMPLE.com.")))
	assert.False(t, EquivalentPatterns(MustParsePattern("example.com"), MustParsePattern("%example.com%")))
	assert.True(t, EquivalentPatterns(nil, nil))
	assert.False(t, EquivalentPatterns(MustParsePattern("example.com"), nil))
}

func TestMustParsePattern_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParsePattern("") })
}
