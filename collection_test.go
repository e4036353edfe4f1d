package jsrt_test

import (
	"testing"

	"github.com/buke/jsrt-go"
	"github.com/stretchr/testify/require"
)

// TestArray tests the array helpers.
func TestArray(t *testing.T) {
	ctx := newContext(t)

	arr, err := ctx.Array()
	require.NoError(t, err)
	defer arr.Free()

	n, err := arr.Push(mustInt(t, ctx, 1), mustInt(t, ctx, 2), mustInt(t, ctx, 3))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = arr.Unshift(mustInt(t, ctx, 0))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "0,1,2,3", arr.String())

	v, err := arr.GetIdx(2)
	require.NoError(t, err)
	require.Equal(t, "2", v.String())
	v.Free()

	require.NoError(t, arr.SetIdx(2, mustInt(t, ctx, 20)))
	require.Equal(t, "0,1,20,3", arr.String())

	last, err := arr.Pop()
	require.NoError(t, err)
	require.Equal(t, "3", last.String())
	first, err := arr.Shift()
	require.NoError(t, err)
	require.Equal(t, "0", first.String())

	n, err = arr.Len()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	vals, err := arr.Values()
	require.NoError(t, err)
	require.Len(t, vals, 2)
	require.Equal(t, "1", vals[0].String())
	require.Equal(t, "20", vals[1].String())
	for _, v := range vals {
		v.Free()
	}
}

func TestArrayBounds(t *testing.T) {
	ctx := newContext(t)

	arr := run(t, ctx, `[1, 2, 3]`).(*jsrt.Array)

	_, err := arr.GetIdx(-1)
	require.ErrorIs(t, err, jsrt.ErrInvalidArgument)
	_, err = arr.GetIdx(3)
	require.ErrorIs(t, err, jsrt.ErrInvalidArgument)
	require.ErrorIs(t, arr.SetIdx(3, nil), jsrt.ErrInvalidArgument)
	require.ErrorIs(t, arr.DeleteIdx(5), jsrt.ErrInvalidArgument)

	ok, err := arr.HasIdx(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, arr.DeleteIdx(1))
	ok, err = arr.HasIdx(1)
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting leaves a hole; the length is unchanged.
	n, err := arr.Len()
	require.NoError(t, err)
	require.Equal(t, 3, n)
	hole, err := arr.GetIdx(1)
	require.NoError(t, err)
	require.Equal(t, jsrt.TypeUndefined, hole.Type())
}

func TestArrayEmpty(t *testing.T) {
	ctx := newContext(t)

	arr, err := ctx.Array()
	require.NoError(t, err)
	defer arr.Free()

	v, err := arr.Pop()
	require.NoError(t, err)
	require.Equal(t, jsrt.TypeUndefined, v.Type())
	v, err = arr.Shift()
	require.NoError(t, err)
	require.Equal(t, jsrt.TypeUndefined, v.Type())

	vals, err := arr.Values()
	require.NoError(t, err)
	require.Empty(t, vals)
}
