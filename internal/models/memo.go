package models

import "encoding/json"

const destinationTransferKey = "destination_transfer"

// Memo is the free-form memo of a credit. The destination_transfer key is
// lifted into a typed field because it links a transfer to the next hop of a
// chain; every other key is kept in Fields as decoded JSON.
type Memo struct {
	DestinationTransfer *Transfer
	Fields              map[string]any
}

// NewMemo wraps caller-supplied memo fields.
func NewMemo(fields map[string]any) *Memo {
	if len(fields) == 0 {
		return nil
	}
	m := &Memo{Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		if k == destinationTransferKey {
			continue
		}
		m.Fields[k] = v
	}
	return m
}

// Clone copies the memo; the destination transfer is deep-copied.
func (m *Memo) Clone() *Memo {
	if m == nil {
		return nil
	}
	c := &Memo{DestinationTransfer: m.DestinationTransfer.Clone()}
	if m.Fields != nil {
		c.Fields = make(map[string]any, len(m.Fields))
		for k, v := range m.Fields {
			c.Fields[k] = v
		}
	}
	return c
}

// Merge copies fields into the memo, overwriting existing keys.
func (m *Memo) Merge(fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	if m.Fields == nil {
		m.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		if k == destinationTransferKey {
			continue
		}
		m.Fields[k] = v
	}
}

// Empty reports whether the memo carries nothing worth serializing.
func (m *Memo) Empty() bool {
	return m == nil || (m.DestinationTransfer == nil && len(m.Fields) == 0)
}

func (m Memo) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+1)
	for k, v := range m.Fields {
		out[k] = v
	}
	if m.DestinationTransfer != nil {
		out[destinationTransferKey] = m.DestinationTransfer
	}
	return json.Marshal(out)
}

func (m *Memo) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.DestinationTransfer = nil
	m.Fields = nil
	for k, v := range raw {
		if k == destinationTransferKey {
			if string(v) == "null" {
				continue
			}
			var t Transfer
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			m.DestinationTransfer = &t
			continue
		}
		var field any
		if err := json.Unmarshal(v, &field); err != nil {
			return err
		}
		if m.Fields == nil {
			m.Fields = make(map[string]any, len(raw))
		}
		m.Fields[k] = field
	}
	return nil
}
