package project

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MetadataPair is one key/value of a metadata map.
type MetadataPair struct {
	Key   string
	Value string
}

// Metadata is an ordered string-to-string map. Order matters on the wire:
// the server echoes documents back byte-for-byte and reordering keys would
// show up as a spurious modification.
type Metadata []MetadataPair

func (m Metadata) Get(key string) (string, bool) {
	for _, pair := range m {
		if pair.Key == key {
			return pair.Value, true
		}
	}
	return "", false
}

// Set replaces the value for key in place, or appends a new pair.
func (m *Metadata) Set(key, value string) {
	for i, pair := range *m {
		if pair.Key == key {
			(*m)[i].Value = value
			return
		}
	}
	*m = append(*m, MetadataPair{Key: key, Value: value})
}

// MarshalJSON renders the metadata as a JSON object in insertion order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, pair := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(pair.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object preserving key order, which a plain map
// would lose.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metadata: expected object, got %v", tok)
	}

	out := Metadata{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("metadata: expected string key, got %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("metadata: value for %q: %w", key, err)
		}
		out = append(out, MetadataPair{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}
