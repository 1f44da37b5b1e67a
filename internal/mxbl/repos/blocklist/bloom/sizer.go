package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
)

const (
	// defaultFPRate replaces false-positive targets outside (0, 1).
	defaultFPRate = 0.01
	// minFPRate floors the target so a misconfigured rate cannot size a
	// filter far beyond the rule set it indexes.
	minFPRate = 1e-6
	// minBits keeps filters for a handful of exact rules from saturating
	// when the rule set grows before the next rebuild.
	minBits = 512
	// maxHashes caps per-candidate hashing; a check probes every key form
	// of every walked candidate.
	maxHashes = 16
)

// sizer implements blocklist.BloomSizer for the exact-rule prefilter. The
// optimum comes from the filter library; the result is then clamped to the
// bounds above.
type sizer struct{}

// NewSizer returns the BloomSizer used for rule snapshots.
func NewSizer() blocklist.BloomSizer { return sizer{} }

func (sizer) Size(keys uint64, fpRate float64) (uint64, uint8) {
	if keys == 0 {
		keys = 1
	}
	switch {
	case !(fpRate > 0 && fpRate < 1):
		fpRate = defaultFPRate
	case fpRate < minFPRate:
		fpRate = minFPRate
	}
	m, k := bitsbloom.EstimateParameters(uint(keys), fpRate)
	m = max(m, minBits)
	k = min(max(k, 1), maxHashes)
	return uint64(m), uint8(k)
}
