package runwriter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiros/choiros/internal/core"
)

func TestApplyOpsInsert(t *testing.T) {
	out, err := applyOps("hello world", []core.PatchOp{
		{Op: core.OpInsert, Pos: 5, Text: ","},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello, world", out)
}

func TestApplyOpsDeleteAndReplace(t *testing.T) {
	out, err := applyOps("hello world", []core.PatchOp{
		{Op: core.OpDelete, Pos: 0, Len: 6},
		{Op: core.OpReplace, Pos: 6, Len: 5, Text: "there"},
	})
	require.NoError(t, err)
	assert.Equal(t, "there", out)
}

func TestApplyOpsRetainPreservesSpan(t *testing.T) {
	out, err := applyOps("abcdef", []core.PatchOp{
		{Op: core.OpRetain, Pos: 0, Len: 3},
		{Op: core.OpInsert, Pos: 3, Text: "-"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-def", out)
}

func TestApplyOpsOutOfOrderRejected(t *testing.T) {
	_, err := applyOps("abcdef", []core.PatchOp{
		{Op: core.OpInsert, Pos: 4, Text: "x"},
		{Op: core.OpInsert, Pos: 1, Text: "y"},
	})
	assert.Error(t, err)
}

func TestApplyOpsOutOfBoundsRejected(t *testing.T) {
	_, err := applyOps("abc", []core.PatchOp{
		{Op: core.OpDelete, Pos: 0, Len: 10},
	})
	assert.Error(t, err)
}

func TestApplyOpsEmptyIsIdentity(t *testing.T) {
	out, err := applyOps("unchanged", nil)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)
}
