package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPathValidation(t *testing.T) {
	ok := []string{"/", "/a", "/a/b", "/a/b/c"}
	for _, s := range ok {
		p, err := NewPath(s)
		require.NoError(t, err, s)
		assert.Equal(t, Path(s), p)
	}

	bad := []string{"", "a", "/a/", "/a//b", "//"}
	for _, s := range bad {
		_, err := NewPath(s)
		assert.ErrorIs(t, err, ErrInvalidPath, s)
	}
}

func TestPathAppend(t *testing.T) {
	root, err := NewPath("/")
	require.NoError(t, err)
	child, err := root.Append("a")
	require.NoError(t, err)
	assert.Equal(t, Path("/a"), child)

	grandchild, err := child.Append("b")
	require.NoError(t, err)
	assert.Equal(t, Path("/a/b"), grandchild)

	_, err = child.Append("b/c")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestPathDirnameBasename(t *testing.T) {
	p := Path("/a/b/c")
	assert.Equal(t, Path("/a/b"), p.Dirname())
	assert.Equal(t, "c", p.Basename())

	top := Path("/a")
	assert.Equal(t, Path("/"), top.Dirname())
	assert.Equal(t, "a", top.Basename())

	root := Path("/")
	assert.Equal(t, Path("/"), root.Dirname())
}
