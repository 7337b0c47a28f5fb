package opgen

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource string

func (s fixedSource) Generate() string { return string(s) }

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}

	a, b := gen.Generate(), gen.Generate()
	assert.NotEqual(t, a, b)

	id, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestClock(t *testing.T) {
	var c Clock
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestBuilder_Create(t *testing.T) {
	b := NewBuilder(fixedSource("client"), nil)
	assert.Equal(t, "client", b.Source())

	payload, err := b.Create("json0", json.RawMessage(`{"title":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"src":"client","seq":1,"v":0,"create":{"type":"json0","data":{"title":"hi"}}}`,
		string(payload))
}

func TestBuilder_Op(t *testing.T) {
	b := NewBuilder(fixedSource("client"), nil)

	payload, err := b.Op(3, json.RawMessage(`[{"p":["x"],"na":1}]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"src":"client","seq":1,"v":2,"op":[{"p":["x"],"na":1}]}`, string(payload))

	payload, err = b.Op(4, json.RawMessage(`[{"p":["x"],"na":1}]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"src":"client","seq":2,"v":3,"op":[{"p":["x"],"na":1}]}`, string(payload))
}

func TestBuilder_Replace(t *testing.T) {
	b := NewBuilder(fixedSource("client"), nil)

	payload, err := b.Replace(2, json.RawMessage(`{"x":2}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"src":"client","seq":1,"v":1,"op":[{"p":[],"oi":{"x":2}}]}`, string(payload))
}

func TestBuilder_Delete(t *testing.T) {
	b := NewBuilder(fixedSource("client"), nil)

	payload, err := b.Delete(5)
	require.NoError(t, err)
	assert.JSONEq(t, `{"src":"client","seq":1,"v":4,"del":true}`, string(payload))
}

func TestBuilder_Invalid(t *testing.T) {
	b := NewBuilder(fixedSource("client"), nil)

	_, err := b.Create("", nil)
	assert.Error(t, err)
	_, err = b.Create("json0", json.RawMessage(`{`))
	assert.Error(t, err)
	_, err = b.Op(2, nil)
	assert.Error(t, err)
	_, err = b.Op(0, json.RawMessage(`[]`))
	assert.Error(t, err)
	_, err = b.Replace(2, json.RawMessage(`nope`))
	assert.Error(t, err)
	_, err = b.Delete(0)
	assert.Error(t, err)
}
