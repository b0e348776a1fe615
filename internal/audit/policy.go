package audit

import (
	"fmt"

	"github.com/roach88/graphsync/internal/ir"
)

// Mode selects how change payloads are recorded.
type Mode string

const (
	PayloadFull     Mode = "full"
	PayloadSuppress Mode = "suppress"
	PayloadTruncate Mode = "truncate"
)

// DefaultMaxPayloadBytes is the truncation threshold used by DefaultPolicy.
const DefaultMaxPayloadBytes = 64 << 10

// SummaryField is the single key a truncated payload is replaced with.
const SummaryField = "_summary"

// Policy controls payload recording.
type Policy struct {
	Mode Mode `json:"mode"`

	// MaxPayloadBytes caps each payload's canonical JSON size under
	// PayloadTruncate.
	MaxPayloadBytes int `json:"max_payload_bytes,omitempty"`
}

// DefaultPolicy truncates payloads above DefaultMaxPayloadBytes.
func DefaultPolicy() Policy {
	return Policy{Mode: PayloadTruncate, MaxPayloadBytes: DefaultMaxPayloadBytes}
}

// ParseMode converts a flag value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case PayloadFull, PayloadSuppress, PayloadTruncate:
		return m, nil
	}
	return "", fmt.Errorf("invalid payload mode %q: must be one of full, suppress, truncate", s)
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if _, err := ParseMode(string(p.Mode)); err != nil {
		return err
	}
	if p.Mode == PayloadTruncate && p.MaxPayloadBytes <= 0 {
		return fmt.Errorf("truncate policy needs a positive max payload size, got %d", p.MaxPayloadBytes)
	}
	return nil
}

// apply returns the payloads to record for c and whether any was altered.
func (p Policy) apply(c ir.ChangeRecord) (old, next ir.Object, redacted bool, err error) {
	switch p.Mode {
	case PayloadSuppress:
		return nil, nil, c.OldValues != nil || c.NewValues != nil, nil
	case PayloadFull:
		return c.OldValues, c.NewValues, false, nil
	}

	old, oldCut, err := p.truncate(c.OldValues)
	if err != nil {
		return nil, nil, false, fmt.Errorf("old values: %w", err)
	}
	next, newCut, err := p.truncate(c.NewValues)
	if err != nil {
		return nil, nil, false, fmt.Errorf("new values: %w", err)
	}
	return old, next, oldCut || newCut, nil
}

func (p Policy) truncate(payload ir.Object) (ir.Object, bool, error) {
	if payload == nil {
		return nil, false, nil
	}
	data, err := ir.MarshalCanonical(payload)
	if err != nil {
		return nil, false, err
	}
	if len(data) <= p.MaxPayloadBytes {
		return payload, false, nil
	}
	return Summary(payload, len(data)), true, nil
}

// Summary is the replacement recorded for an oversized payload.
func Summary(payload ir.Object, size int) ir.Object {
	keys := payload.SortedKeys()
	fields := make(ir.Array, len(keys))
	for i, k := range keys {
		fields[i] = ir.String(k)
	}
	return ir.Object{
		SummaryField: ir.Object{
			"bytes":  ir.Int(size),
			"fields": fields,
		},
	}
}
