// Package id defines the prefixed identifiers used by docflow.
//
// An ID is rendered as "prefix_suffix" where the suffix is a UUIDv7 in
// lowercase hex without dashes. UUIDv7 carries a millisecond timestamp in
// its high bits, so IDs of the same prefix sort by creation time.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

// Prefix constants for docflow entities.
const (
	PrefixRun      Prefix = "run"
	PrefixStep     Prefix = "stx"
	PrefixDelivery Prefix = "dlv"
	PrefixAudit    Prefix = "aud"
	PrefixExtract  Prefix = "ext"
	PrefixSub      Prefix = "sub"
)

// ID is a prefix-qualified, globally unique, sortable identifier.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	prefix Prefix
	uid    uuid.UUID
	valid  bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new ID with the given prefix.
// It panics if prefix is invalid or the random source fails.
func New(prefix Prefix) ID {
	if !validPrefix(string(prefix)) {
		panic(fmt.Sprintf("id: invalid prefix %q", prefix))
	}
	u, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("id: generate uuidv7: %v", err))
	}
	return ID{prefix: prefix, uid: u, valid: true}
}

// Parse parses "prefix_suffix" into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	sep := strings.LastIndexByte(s, '_')
	if sep <= 0 || sep == len(s)-1 {
		return Nil, fmt.Errorf("id: parse %q: missing prefix separator", s)
	}
	prefix, suffix := s[:sep], s[sep+1:]
	if !validPrefix(prefix) {
		return Nil, fmt.Errorf("id: parse %q: invalid prefix", s)
	}
	if len(suffix) != 32 {
		return Nil, fmt.Errorf("id: parse %q: suffix must be 32 hex characters", s)
	}
	u, err := uuid.Parse(suffix)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{prefix: Prefix(prefix), uid: u, valid: true}, nil
}

// ParseWithPrefix parses s and checks that its prefix is expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.prefix != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.prefix)
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

func validPrefix(p string) bool {
	if p == "" || len(p) > 63 {
		return false
	}
	for _, r := range p {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// RunID identifies one workflow run (prefix "run").
type RunID = ID

// NewRunID generates a run ID.
func NewRunID() ID { return New(PrefixRun) }

// NewStepExecutionID generates an ID for one persisted step record.
func NewStepExecutionID() ID { return New(PrefixStep) }

// NewDeliveryID generates an ID for one outbound delivery.
func NewDeliveryID() ID { return New(PrefixDelivery) }

// NewAuditID generates an audit entry ID.
func NewAuditID() ID { return New(PrefixAudit) }

// NewExtractionID generates an extraction ID.
func NewExtractionID() ID { return New(PrefixExtract) }

// NewSubscriberID generates an event stream subscriber ID.
func NewSubscriberID() ID { return New(PrefixSub) }

// ParseRunID parses s and validates the "run" prefix.
func ParseRunID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRun) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return string(i.prefix) + "_" + strings.ReplaceAll(i.uid.String(), "-", "")
}

// Prefix returns the prefix component.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return i.prefix
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
