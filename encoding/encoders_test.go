package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTyped_IntEncoder(t *testing.T) {
	c := Typed[int](IntEncoder{})

	byt, err := c.Encode(222)
	require.NoError(t, err)
	require.Equal(t, `222`, string(byt))

	v, err := c.Decode(byt)
	require.NoError(t, err)
	require.Equal(t, 222, v)

	_, err = c.Decode([]byte(`abc`))
	require.Error(t, err)
}

func TestTyped_WrongType(t *testing.T) {
	_, err := StringEncoder{}.Encode(1)
	require.Error(t, err)

	c := Typed[int](StringEncoder{})
	_, err = c.Decode([]byte(`x`))
	require.Error(t, err)
}

func TestJson_Deterministic(t *testing.T) {
	c := Json[map[string]int]()

	a, err := c.Encode(map[string]int{`b`: 2, `a`: 1, `c`: 3})
	require.NoError(t, err)
	b, err := c.Encode(map[string]int{`c`: 3, `a`: 1, `b`: 2})
	require.NoError(t, err)
	require.Equal(t, a, b)

	v, err := c.Decode(a)
	require.NoError(t, err)
	require.Equal(t, 2, v[`b`])
}
