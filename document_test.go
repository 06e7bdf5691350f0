package docsync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	ID    string
	Rev   string
	Title string
	Stars int64
	Tags  []string
}

func (n note) DocID() string  { return n.ID }
func (n note) DocRev() string { return n.Rev }
func (n note) Fields() map[string]any {
	return map[string]any{FieldID: n.ID, FieldRev: n.Rev, "title": n.Title, "stars": n.Stars, "tags": n.Tags}
}

func decodeNote(tree any) (note, error) {
	f := ReadFields(tree)
	n := note{
		ID:    f.String(FieldID),
		Rev:   f.OptString(FieldRev),
		Title: f.String("title"),
		Stars: f.Int("stars"),
		Tags:  f.Strings("tags"),
	}
	return n, f.Err()
}

func TestDecodeTypedDocument(t *testing.T) {
	n, err := DecodeJSON([]byte(`{"_id":"n1","_rev":"1-a","title":"hi","stars":3,"tags":["x","y"]}`), decodeNote)
	require.NoError(t, err)
	assert.Equal(t, note{ID: "n1", Rev: "1-a", Title: "hi", Stars: 3, Tags: []string{"x", "y"}}, n)
}

func TestDecodeFailuresNameTheField(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{name: "missing id", input: `{"title":"hi","stars":1,"tags":[]}`, field: FieldID},
		{name: "mistyped title", input: `{"_id":"n1","title":5,"stars":1,"tags":[]}`, field: "title"},
		{name: "fractional stars", input: `{"_id":"n1","title":"hi","stars":1.5,"tags":[]}`, field: "stars"},
		{name: "mixed tags", input: `{"_id":"n1","title":"hi","stars":1,"tags":["a",2]}`, field: "tags"},
		{name: "not an object", input: `[1,2]`, field: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(tt.input), decodeNote)
			require.Error(t, err)
			assert.True(t, IsDecode(err))

			e := AsError(err)
			assert.Equal(t, CodeTransport, e.Code)
			assert.Equal(t, tt.field, e.Field)
		})
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := DecodeJSON([]byte(`{"_id":`), decodeNote)
	require.Error(t, err)
	assert.Equal(t, CodeTransport, AsError(err).Code)
}

func TestDecodeRaw(t *testing.T) {
	var tree any
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"d1","_rev":"2-b","n":1}`), &tree))

	doc, err := DecodeRaw(tree)
	require.NoError(t, err)
	assert.Equal(t, "d1", doc.DocID())
	assert.Equal(t, "2-b", doc.DocRev())

	fields := doc.Fields()
	fields["n"] = 2
	assert.Equal(t, 1.0, doc["n"], "Fields returns a copy")

	_, err = DecodeRaw(map[string]any{"_id": 7})
	assert.True(t, IsDecode(err))
}

func TestFieldReaderKeepsFirstError(t *testing.T) {
	f := ReadFields(map[string]any{"a": "x"})
	f.Int("a")
	f.String("missing")
	e := AsError(f.Err())
	assert.Equal(t, "a", e.Field)
	assert.Equal(t, "expected integer", e.Message)
}
