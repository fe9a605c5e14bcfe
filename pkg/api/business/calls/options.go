package calls

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
)

var ErrOptionsNotObject = errors.New("options must be a JSON object")

// Options is an insertion-ordered JSON object. Values are kept as raw JSON so
// provider passthrough fields reach the wire unmodified.
type Options struct {
	values map[string]json.RawMessage
	keys   []string
}

func NewOptions() Options {
	return Options{values: map[string]json.RawMessage{}}
}

func (o Options) Len() int {
	return len(o.keys)
}

func (o Options) Keys() []string {
	return slices.Clone(o.keys)
}

func (o Options) Get(key string) (json.RawMessage, bool) {
	v, ok := o.values[key]

	return v, ok
}

// Set marshals value and stores it under key, keeping the original position
// when the key already exists.
func (o *Options) Set(key string, value any) error {
	raw, ok := value.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal option %q: %w", key, err)
		}

		raw = encoded
	}

	if raw == nil {
		raw = json.RawMessage("null")
	}

	if o.values == nil {
		o.values = map[string]json.RawMessage{}
	}

	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}

	o.values[key] = raw

	return nil
}

func (o *Options) Delete(key string) {
	if _, exists := o.values[key]; !exists {
		return
	}

	delete(o.values, key)
	o.keys = slices.DeleteFunc(o.keys, func(k string) bool { return k == key })
}

func (o Options) All() iter.Seq2[string, json.RawMessage] {
	return func(yield func(string, json.RawMessage) bool) {
		for _, k := range o.keys {
			if !yield(k, o.values[k]) {
				return
			}
		}
	}
}

// Without returns a copy that omits every key in blacklist.
func (o Options) Without(blacklist ...string) Options {
	out := NewOptions()

	for k, v := range o.All() {
		if slices.Contains(blacklist, k) {
			continue
		}

		out.keys = append(out.keys, k)
		out.values[k] = v
	}

	return out
}

// Merge copies every entry of other into o; entries of other win.
func (o *Options) Merge(other Options) {
	for k, v := range other.All() {
		_ = o.Set(k, v)
	}
}

func (o Options) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(o.values[k])
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func (o *Options) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if tok == nil {
		*o = NewOptions()

		return nil
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrOptionsNotObject
	}

	out := NewOptions()

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}

		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("%w: unexpected key token %v", ErrOptionsNotObject, keyTok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("failed to decode option %q: %w", key, err)
		}

		if err := out.Set(key, value); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*o = out

	return nil
}
