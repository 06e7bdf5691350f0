package docsync

import (
	"encoding/json"
	"fmt"
	"math"
)

type (
	// Document is a typed record that can be replicated. Fields returns the
	// wire form of the document, including the "_id" and "_rev" members.
	Document interface {
		DocID() string
		DocRev() string
		Fields() map[string]any
	}

	// DecodeFunc materializes a T from a decoded payload tree. It either
	// returns a complete value or a decode *Error naming the offending field.
	DecodeFunc[T Document] func(tree any) (T, error)

	// Raw is an untyped document. It is what stores hold internally and what
	// the CLI replicates.
	Raw map[string]any
)

const (
	FieldID      = "_id"
	FieldRev     = "_rev"
	FieldDeleted = "_deleted"
)

func (d Raw) DocID() string {
	id, _ := d[FieldID].(string)
	return id
}

func (d Raw) DocRev() string {
	rev, _ := d[FieldRev].(string)
	return rev
}

func (d Raw) Fields() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// DecodeRaw accepts any object with a string "_id".
func DecodeRaw(tree any) (Raw, error) {
	f := ReadFields(tree)
	f.String(FieldID)
	f.OptString(FieldRev)
	if err := f.Err(); err != nil {
		return nil, err
	}
	return Raw(f.Tree()).Fields(), nil
}

// FieldReader reads typed members from a decoded object. The first failure
// is kept and every later read returns a zero value, so a decoder can read
// all of its fields and check Err once.
type FieldReader struct {
	tree map[string]any
	err  *Error
}

// ReadFields starts reading tree, which must be an object.
func ReadFields(tree any) *FieldReader {
	m, ok := tree.(map[string]any)
	if !ok {
		if raw, isRaw := tree.(Raw); isRaw {
			return &FieldReader{tree: raw}
		}
		return &FieldReader{err: DecodeError("", "object")}
	}
	return &FieldReader{tree: m}
}

// Tree returns the object being read.
func (f *FieldReader) Tree() map[string]any { return f.tree }

// Err returns the first decode failure, if any.
func (f *FieldReader) Err() error {
	if f.err == nil {
		return nil
	}
	return f.err
}

func (f *FieldReader) fail(name, expected string) {
	if f.err == nil {
		f.err = DecodeError(name, expected)
	}
}

func (f *FieldReader) lookup(name, expected string) (any, bool) {
	if f.err != nil {
		return nil, false
	}
	v, ok := f.tree[name]
	if !ok || v == nil {
		f.fail(name, expected)
		return nil, false
	}
	return v, true
}

func (f *FieldReader) String(name string) string {
	v, ok := f.lookup(name, "string")
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail(name, "string")
	}
	return s
}

// OptString reads a string that may be absent. A present value of another
// type is still a failure.
func (f *FieldReader) OptString(name string) string {
	if f.err != nil {
		return ""
	}
	if v, ok := f.tree[name]; !ok || v == nil {
		return ""
	}
	return f.String(name)
}

func (f *FieldReader) Int(name string) int64 {
	v, ok := f.lookup(name, "integer")
	if !ok {
		return 0
	}
	n, ok := toInt64(v)
	if !ok {
		f.fail(name, "integer")
	}
	return n
}

func (f *FieldReader) Bool(name string) bool {
	v, ok := f.lookup(name, "boolean")
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		f.fail(name, "boolean")
	}
	return b
}

func (f *FieldReader) Object(name string) map[string]any {
	v, ok := f.lookup(name, "object")
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		f.fail(name, "object")
	}
	return m
}

func (f *FieldReader) Strings(name string) []string {
	v, ok := f.lookup(name, "array of strings")
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		if ss, isStrings := v.([]string); isStrings {
			return ss
		}
		f.fail(name, "array of strings")
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			f.fail(name, "array of strings")
			return nil
		}
		out = append(out, s)
	}
	return out
}

// toInt64 accepts every numeric type the JSON and msgpack decoders produce,
// as long as the value is integral.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// DecodeJSON parses data into a loosely typed tree and decodes it with fn.
func DecodeJSON[T Document](data []byte, fn DecodeFunc[T]) (T, error) {
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		var zero T
		return zero, &Error{Kind: KindDecode, Code: CodeTransport, Message: fmt.Sprintf("invalid JSON: %s", err)}
	}
	return fn(tree)
}
