package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagSet_ValueRoundTrip(t *testing.T) {
	ts := TagSet{"read", "write", "execute"}
	v, err := ts.Value()
	require.NoError(t, err)
	assert.Equal(t, `["read","write","execute"]`, v)

	var out TagSet
	require.NoError(t, out.Scan(v))
	assert.Equal(t, ts, out)
}

func TestTagSet_ValueNil(t *testing.T) {
	var ts TagSet
	v, err := ts.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestTagSet_ScanNil(t *testing.T) {
	ts := TagSet{"x"}
	require.NoError(t, ts.Scan(nil))
	assert.Nil(t, ts)
}

func TestTagSet_ScanEmptyBytes(t *testing.T) {
	ts := TagSet{"x"}
	require.NoError(t, ts.Scan([]byte{}))
	assert.Nil(t, ts)
}

func TestTagSet_ScanFromStringAndBytes(t *testing.T) {
	var a TagSet
	require.NoError(t, a.Scan("[\"a\",\"b\"]"))
	assert.Equal(t, TagSet{"a", "b"}, a)

	var b TagSet
	require.NoError(t, b.Scan([]byte("[\"a\",\"b\"]")))
	assert.Equal(t, TagSet{"a", "b"}, b)
}

func TestTagSet_ScanUnsupportedType(t *testing.T) {
	var ts TagSet
	err := ts.Scan(42)
	assert.Error(t, err)
}
