package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataMarshalIsDeterministic(t *testing.T) {
	m := Metadata{
		"zeta":  String("last"),
		"alpha": Number(1.5),
		"mid":   Bool(true),
		"none":  Null(),
		"inner": Nested(Metadata{"b": Number(2), "a": String("x")}),
	}

	first, err := json.Marshal(m)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
	assert.Equal(t, `{"alpha":1.5,"inner":{"a":"x","b":2},"mid":true,"none":null,"zeta":"last"}`, string(first))
}

func TestMetadataUnmarshal(t *testing.T) {
	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"page":3,"file":"a.pdf","ok":false,"x":null,"n":{"k":"v"}}`), &m))

	assert.Equal(t, KindNumber, m["page"].Kind())
	assert.Equal(t, 3.0, m["page"].Num())
	assert.Equal(t, "a.pdf", m["file"].Str())
	assert.Equal(t, KindBool, m["ok"].Kind())
	assert.True(t, m["x"].IsNull())
	assert.Equal(t, "v", m["n"].Map()["k"].Str())
}

func TestMetadataRejectsArrays(t *testing.T) {
	var m Metadata
	assert.Error(t, json.Unmarshal([]byte(`{"tags":["a","b"]}`), &m))
	assert.Error(t, json.Unmarshal([]byte(`"just a string"`), &m))
}

func TestMetadataFlattenAndMerge(t *testing.T) {
	m := Metadata{"page": Number(2), "file": String("a.pdf")}
	merged := m.Merge(Metadata{"page": Number(3), "final": Bool(true)})

	assert.Equal(t, map[string]string{"page": "3", "file": "a.pdf", "final": "true"}, merged.Flatten())
	assert.Equal(t, 2.0, m["page"].Num(), "merge must not mutate the receiver")
}

func TestUserMessageHidesInternals(t *testing.T) {
	err := wrap(ErrIndexUnavailable, "dial tcp 10.0.0.1:5432: connection refused")
	assert.Equal(t, "The document store is temporarily unavailable. Please try again.", UserMessage(err))
	assert.True(t, Retryable(err))
	assert.False(t, Retryable(ErrDuplicateContent))
	assert.Equal(t, "An unexpected error occurred.", UserMessage(assert.AnError))
	assert.Contains(t, UserMessage(wrap(ErrProfileMismatch, "mean vs cls")), "different embedding settings")
}

func TestAppendExchangeDoesNotAlias(t *testing.T) {
	history := make([]Message, 1, 8)
	history[0] = Message{Role: RoleUser, Content: "hi"}

	next := AppendExchange(history, "q", "a")
	require.Len(t, next, 3)
	assert.Len(t, history, 1)
	assert.Equal(t, Message{Role: RoleAssistant, Content: "a"}, next[2])

	next[0].Content = "changed"
	assert.Equal(t, "hi", history[0].Content)
}
