package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "sandbox", "/tmp/sandbox.txn"))
	assert.ErrorIs(t, s.Create(ctx, "sandbox", "/tmp/other.txn"), ErrPoolExists)

	p, err := s.Get(ctx, "sandbox")
	require.NoError(t, err)
	assert.Equal(t, Pool{Name: "sandbox", GenesisTxn: "/tmp/sandbox.txn"}, p)

	require.NoError(t, s.Delete(ctx, "sandbox"))
	assert.ErrorIs(t, s.Delete(ctx, "sandbox"), ErrPoolNotFound)
	_, err = s.Get(ctx, "sandbox")
	assert.ErrorIs(t, err, ErrPoolNotFound)
}

func TestListOrderedByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pools, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, pools)

	for _, name := range []string{"staging", "builder", "main"} {
		require.NoError(t, s.Create(ctx, name, name+".txn"))
	}
	pools, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 3)
	assert.Equal(t, "builder", pools[0].Name)
	assert.Equal(t, "main", pools[1].Name)
	assert.Equal(t, "staging", pools[2].Name)
}

func TestReopenKeepsPools(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, "sandbox", "sandbox.txn"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get(ctx, "sandbox")
	assert.NoError(t, err)
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", " ", ".", "..", "a/b", `a\b`} {
		assert.ErrorIs(t, ValidateName(name), ErrInvalidName, "name %q", name)
	}
	assert.NoError(t, ValidateName("pool-1"))
}
