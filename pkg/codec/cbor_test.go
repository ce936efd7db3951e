package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name    string                 `cbor:"name"`
	Args    map[string]interface{} `cbor:"args"`
	Created time.Time              `cbor:"created"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": "x", "c": []interface{}{"y"}}
	first, err := Marshal(a)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(a)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNestedMapsDecodeWithStringKeys(t *testing.T) {
	in := record{
		Name:    "search",
		Args:    map[string]interface{}{"opts": map[string]interface{}{"deep": true}},
		Created: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
	}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out record
	require.NoError(t, Unmarshal(data, &out))
	opts, ok := out.Args["opts"].(map[string]interface{})
	require.True(t, ok, "nested map type %T", out.Args["opts"])
	assert.Equal(t, true, opts["deep"])
	assert.True(t, in.Created.Equal(out.Created), "sub-second precision lost")
}
