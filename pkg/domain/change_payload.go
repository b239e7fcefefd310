package domain

import "encoding/json"

// ChangePayload wraps a JSON snapshot of a record's state on either side of a
// change. Rules unmarshal the raw bytes into the entity type they care about;
// the wrapper clones on the way in and out so no two holders share a buffer.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload builds a payload from raw JSON. Nil input yields a defined
// but empty payload; use UndefinedChangePayload for "no snapshot".
func NewChangePayload(raw json.RawMessage) ChangePayload {
	p := ChangePayload{defined: true}
	if raw != nil {
		p.raw = cloneRaw(raw)
	}
	return p
}

// NewChangePayloadFromValue marshals a typed value into a ChangePayload.
func NewChangePayloadFromValue[T any](value T) (ChangePayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ChangePayload{}, err
	}
	return NewChangePayload(raw), nil
}

// UndefinedChangePayload returns the zero payload, meaning "no snapshot".
// Creates carry an undefined Before; deletes carry an undefined After.
func UndefinedChangePayload() ChangePayload {
	return ChangePayload{}
}

// Defined reports whether the payload carries a snapshot at all.
func (p ChangePayload) Defined() bool {
	return p.defined
}

// IsEmpty reports whether the payload holds no bytes.
func (p ChangePayload) IsEmpty() bool {
	return !p.defined || len(p.raw) == 0
}

// Raw returns a cloned copy of the underlying JSON, or nil when undefined.
func (p ChangePayload) Raw() json.RawMessage {
	if !p.defined || len(p.raw) == 0 {
		return nil
	}
	return cloneRaw(p.raw)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
