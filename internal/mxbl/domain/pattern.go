package domain

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/haukened/mxbl/internal/mxbl/common/utils"
)

// PatternKind identifies how a pattern matches candidates. The numeric values
// are persisted alongside rule rows and must never be renumbered.
type PatternKind uint8

const (
	// PatternDomain matches a single domain name exactly (case and root dot insensitive).
	PatternDomain PatternKind = iota
	// PatternGlob matches with shell-style wildcards, case-insensitive.
	PatternGlob
	// PatternRegex matches when the expression occurs anywhere in the candidate, case-insensitive.
	PatternRegex
	// PatternCidr matches IP addresses inside a network.
	PatternCidr
	// PatternIPAddr matches a single IP address.
	PatternIPAddr
)

var (
	// ErrInvalidPattern reports operator-supplied pattern text that cannot be used.
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrUnknownPatternKind reports a persisted kind tag with no matching variant.
	ErrUnknownPatternKind = errors.New("unknown pattern kind")
)

// String returns a stable string representation of the pattern kind.
func (k PatternKind) String() string {
	switch k {
	case PatternDomain:
		return "domain"
	case PatternGlob:
		return "glob"
	case PatternRegex:
		return "regex"
	case PatternCidr:
		return "cidr"
	case PatternIPAddr:
		return "ip"
	default:
		return fmt.Sprintf("PatternKind(%d)", k)
	}
}

// IsValid reports whether k names a known variant.
func (k PatternKind) IsValid() bool {
	return k <= PatternIPAddr
}

// ParsePatternKind converts a kind name ("domain", "glob", "regex", "cidr", "ip")
// into a PatternKind.
func ParsePatternKind(s string) (PatternKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "domain":
		return PatternDomain, nil
	case "glob":
		return PatternGlob, nil
	case "regex":
		return PatternRegex, nil
	case "cidr":
		return PatternCidr, nil
	case "ip":
		return PatternIPAddr, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPatternKind, s)
	}
}

// Pattern is a compiled, immutable predicate over candidate strings (domain
// names or IP literals). The set of implementations is closed to this package.
type Pattern interface {
	// Kind returns the variant tag.
	Kind() PatternKind
	// Raw returns the pattern body as persisted (delimiters removed).
	Raw() string
	// String returns the canonical text form accepted by ParsePattern.
	String() string
	// Render returns the operator-facing form; ParsePattern accepts it too.
	Render() string
	// Matches reports whether candidate satisfies the pattern. It never fails:
	// malformed candidates simply do not match.
	Matches(candidate string) bool

	sealed()
}

// ParsePattern classifies and compiles operator-entered pattern text:
//
//	%glob%         -> Glob
//	/regex/        -> Regex
//	text with '/'  -> Cidr, or Domain when the part before '/' is not an address
//	anything else  -> IP address, or Domain when it does not parse as one
//
// A trailing " [cidr]" or " [ip]" annotation, as produced by Render, is
// accepted and must agree with the classified kind.
func ParsePattern(text string) (Pattern, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	text, annotated, hasAnnotation := stripAnnotation(text)

	var (
		p   Pattern
		err error
	)
	switch {
	case isWrapped(text, '%'):
		p, err = newGlobPattern(text[1 : len(text)-1])
	case isWrapped(text, '/'):
		p, err = newRegexPattern(text[1 : len(text)-1])
	case strings.Contains(text, "/"):
		p, err = newCidrPattern(text)
		if err != nil && !addressBeforeSlash(text) {
			p, err = newDomainPattern(text)
		}
	default:
		p, err = newIPPattern(text)
		if err != nil {
			p, err = newDomainPattern(text)
		}
	}
	if err != nil {
		return nil, err
	}
	if hasAnnotation && p.Kind() != annotated {
		return nil, fmt.Errorf("%w: %q is a %s pattern, not %s", ErrInvalidPattern, text, p.Kind(), annotated)
	}
	return p, nil
}

// NewPattern rebuilds a pattern from its persisted body and kind tag.
func NewPattern(raw string, kind PatternKind) (Pattern, error) {
	switch kind {
	case PatternDomain:
		return newDomainPattern(raw)
	case PatternGlob:
		return newGlobPattern(raw)
	case PatternRegex:
		return newRegexPattern(raw)
	case PatternCidr:
		return newCidrPattern(raw)
	case PatternIPAddr:
		return newIPPattern(raw)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPatternKind, kind)
	}
}

// MustParsePattern is ParsePattern for tests and static tables; it panics on error.
func MustParsePattern(text string) Pattern {
	p, err := ParsePattern(text)
	if err != nil {
		panic(err)
	}
	return p
}

// EquivalentPatterns reports whether a and b have the same kind and canonical form.
func EquivalentPatterns(a, b Pattern) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Kind() == b.Kind() && a.String() == b.String()
}

// ExactKey returns the lookup key of exact-match kinds (Domain, IPAddr).
// Other kinds report false.
func ExactKey(p Pattern) (string, bool) {
	switch v := p.(type) {
	case *DomainPattern:
		return v.name, true
	case *IPPattern:
		return v.addr.String(), true
	default:
		return "", false
	}
}

// CandidateKeys returns the keys under which an exact-match pattern could
// match candidate: its canonical domain form and, when it is an address, the
// canonical address form.
func CandidateKeys(candidate string) []string {
	name := utils.CanonicalDNSName(candidate)
	if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
		if s := addr.Unmap().String(); s != name {
			return []string{name, s}
		}
	}
	return []string{name}
}

const (
	annotationCidr = " [cidr]"
	annotationIP   = " [ip]"
)

func stripAnnotation(text string) (string, PatternKind, bool) {
	switch {
	case strings.HasSuffix(text, annotationCidr):
		return strings.TrimSpace(strings.TrimSuffix(text, annotationCidr)), PatternCidr, true
	case strings.HasSuffix(text, annotationIP):
		return strings.TrimSpace(strings.TrimSuffix(text, annotationIP)), PatternIPAddr, true
	default:
		return text, 0, false
	}
}

func isWrapped(text string, delim byte) bool {
	return len(text) >= 2 && text[0] == delim && text[len(text)-1] == delim
}

func addressBeforeSlash(text string) bool {
	before, _, _ := strings.Cut(text, "/")
	_, err := netip.ParseAddr(before)
	return err == nil
}

// DomainPattern matches one domain name.
type DomainPattern struct {
	raw  string
	name string
}

func newDomainPattern(raw string) (*DomainPattern, error) {
	name := utils.CanonicalDNSName(raw)
	if name == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrInvalidPattern)
	}
	return &DomainPattern{raw: strings.TrimSpace(raw), name: name}, nil
}

func (p *DomainPattern) Kind() PatternKind { return PatternDomain }
func (p *DomainPattern) Raw() string       { return p.raw }
func (p *DomainPattern) String() string    { return p.name }
func (p *DomainPattern) Render() string    { return p.name }
func (p *DomainPattern) sealed()           {}

func (p *DomainPattern) Matches(candidate string) bool {
	return utils.CanonicalDNSName(candidate) == p.name
}

// GlobPattern matches with '*', '?' and character classes, case-insensitive.
// '*' crosses label boundaries. The glob is anchored at the end of the
// candidate only, so "%spam.test%" also matches "mail.spam.test" but never
// "spam.test.example".
type GlobPattern struct {
	raw string
	g   glob.Glob
}

func newGlobPattern(raw string) (*GlobPattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty glob", ErrInvalidPattern)
	}
	expr := strings.ToLower(raw)
	if !strings.HasPrefix(expr, "*") {
		expr = "*" + expr
	}
	g, err := glob.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: glob %q: %v", ErrInvalidPattern, raw, err)
	}
	return &GlobPattern{raw: raw, g: g}, nil
}

func (p *GlobPattern) Kind() PatternKind { return PatternGlob }
func (p *GlobPattern) Raw() string       { return p.raw }
func (p *GlobPattern) String() string    { return "%" + p.raw + "%" }
func (p *GlobPattern) Render() string    { return p.String() }
func (p *GlobPattern) sealed()           {}

func (p *GlobPattern) Matches(candidate string) bool {
	return p.g.Match(strings.ToLower(candidate))
}

// RegexPattern matches when its expression occurs anywhere in the candidate.
type RegexPattern struct {
	raw string
	re  *regexp.Regexp
}

func newRegexPattern(raw string) (*RegexPattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty regex", ErrInvalidPattern)
	}
	re, err := regexp.Compile("(?i)" + raw)
	if err != nil {
		return nil, fmt.Errorf("%w: regex %q: %v", ErrInvalidPattern, raw, err)
	}
	return &RegexPattern{raw: raw, re: re}, nil
}

func (p *RegexPattern) Kind() PatternKind { return PatternRegex }
func (p *RegexPattern) Raw() string       { return p.raw }
func (p *RegexPattern) String() string    { return "/" + p.raw + "/" }
func (p *RegexPattern) Render() string    { return p.String() }
func (p *RegexPattern) sealed()           {}

func (p *RegexPattern) Matches(candidate string) bool {
	return p.re.MatchString(candidate)
}

// CidrPattern matches addresses inside a network. Host bits must be zero.
type CidrPattern struct {
	raw    string
	prefix netip.Prefix
}

func newCidrPattern(raw string) (*CidrPattern, error) {
	raw = strings.TrimSpace(raw)
	prefix, err := netip.ParsePrefix(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: cidr %q: %v", ErrInvalidPattern, raw, err)
	}
	if prefix.Masked() != prefix {
		return nil, fmt.Errorf("%w: cidr %q has host bits set", ErrInvalidPattern, raw)
	}
	return &CidrPattern{raw: raw, prefix: prefix}, nil
}

func (p *CidrPattern) Kind() PatternKind    { return PatternCidr }
func (p *CidrPattern) Raw() string          { return p.raw }
func (p *CidrPattern) String() string       { return p.prefix.String() }
func (p *CidrPattern) Render() string       { return p.prefix.String() + annotationCidr }
func (p *CidrPattern) Prefix() netip.Prefix { return p.prefix }
func (p *CidrPattern) sealed()              {}

func (p *CidrPattern) Matches(candidate string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(candidate))
	if err != nil {
		return false
	}
	return p.prefix.Contains(addr.Unmap())
}

// IPPattern matches one address. IPv4-mapped IPv6 forms compare equal to IPv4.
type IPPattern struct {
	raw  string
	addr netip.Addr
}

func newIPPattern(raw string) (*IPPattern, error) {
	raw = strings.TrimSpace(raw)
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: ip %q: %v", ErrInvalidPattern, raw, err)
	}
	if addr.Zone() != "" {
		return nil, fmt.Errorf("%w: ip %q has a zone", ErrInvalidPattern, raw)
	}
	return &IPPattern{raw: raw, addr: addr.Unmap()}, nil
}

func (p *IPPattern) Kind() PatternKind { return PatternIPAddr }
func (p *IPPattern) Raw() string       { return p.raw }
func (p *IPPattern) String() string    { return p.addr.String() }
func (p *IPPattern) Render() string    { return p.addr.String() + annotationIP }
func (p *IPPattern) Addr() netip.Addr  { return p.addr }
func (p *IPPattern) sealed()           {}

func (p *IPPattern) Matches(candidate string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(candidate))
	if err != nil {
		return false
	}
	return addr.Unmap() == p.addr
}

var (
	_ Pattern = (*DomainPattern)(nil)
	_ Pattern = (*GlobPattern)(nil)
	_ Pattern = (*RegexPattern)(nil)
	_ Pattern = (*CidrPattern)(nil)
	_ Pattern = (*IPPattern)(nil)
)
