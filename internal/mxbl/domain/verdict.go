package domain

// Verdict is the outcome of checking one domain. The zero value is clean.
type Verdict struct {
	Matched   bool
	Rule      Rule       // the first rule that matched, copied at match time
	Candidate string     // the value that matched: the domain itself, an MX host or an address
	Via       RecordType // RecordNone for a direct match on the domain
}

// Clean returns a non-matching verdict.
func Clean() Verdict { return Verdict{} }

// MatchedBy returns a verdict recording that rule matched candidate.
func MatchedBy(rule Rule, candidate string, via RecordType) Verdict {
	return Verdict{Matched: true, Rule: rule, Candidate: candidate, Via: via}
}

// IsMatch is a convenience accessor.
func (v Verdict) IsMatch() bool { return v.Matched }

// Enforcing reports whether the verdict matched an active rule.
func (v Verdict) Enforcing() bool { return v.Matched && v.Rule.Active }
