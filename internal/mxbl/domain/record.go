package domain

import (
	"fmt"
	"strings"
)

// RecordType is the DNS record type a walker queries. Values are IANA codes.
type RecordType uint16

const (
	// RecordNone marks a candidate that did not come from a lookup.
	RecordNone RecordType = 0
	RecordA    RecordType = 1
	RecordMX   RecordType = 15
	RecordAAAA RecordType = 28
)

// String returns the mnemonic for the record type.
func (t RecordType) String() string {
	switch t {
	case RecordNone:
		return "NONE"
	case RecordA:
		return "A"
	case RecordMX:
		return "MX"
	case RecordAAAA:
		return "AAAA"
	default:
		return fmt.Sprintf("TYPE%d", uint16(t))
	}
}

// IsLookup reports whether t can be queried by a walker.
func (t RecordType) IsLookup() bool {
	return t == RecordA || t == RecordMX || t == RecordAAAA
}

// ParseRecordType converts "A", "AAAA" or "MX" (any case) into a RecordType.
func ParseRecordType(s string) (RecordType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return RecordA, nil
	case "MX":
		return RecordMX, nil
	case "AAAA":
		return RecordAAAA, nil
	default:
		return RecordNone, fmt.Errorf("unsupported record type: %q", s)
	}
}

// Record is one answer value returned by a resolver. Value is an exchange
// host name for MX and an address literal for A/AAAA.
type Record struct {
	Type  RecordType
	Value string
	TTL   uint32
}
