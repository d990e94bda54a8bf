package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/greenhoused/internal/db"
)

type record struct {
	A int64 `json:"a"`
	B int64 `json:"b"`
}

func newStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewStore(d.DB)
}

func TestStore_GetMissing(t *testing.T) {
	s := newStore(t)
	payload, version, err := s.Get("daynight", "record")
	require.NoError(t, err)
	assert.Nil(t, payload)
	assert.Zero(t, version)
}

func TestStore_SetBumpsVersion(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("k", "x", []byte(`{"a":1}`)))
	require.NoError(t, s.Set("k", "x", []byte(`{"a":2}`)))

	payload, version, err := s.Get("k", "x")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(payload))
	assert.Equal(t, int64(2), version)

	require.NoError(t, s.Delete("k", "x"))
	payload, _, err = s.Get("k", "x")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestStore_Clear(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("a", "1", []byte(`1`)))
	require.NoError(t, s.Set("b", "1", []byte(`2`)))

	require.NoError(t, s.Clear("a"))
	p, _, _ := s.Get("a", "1")
	assert.Nil(t, p)
	p, _, _ = s.Get("b", "1")
	assert.NotNil(t, p)

	require.NoError(t, s.Clear(""))
	p, _, _ = s.Get("b", "1")
	assert.Nil(t, p)
}

func TestTypedStore(t *testing.T) {
	ts := NewTypedStore[record](newStore(t), "daynight")

	v, version, err := ts.Get("record")
	require.NoError(t, err)
	assert.Equal(t, record{}, v)
	assert.Zero(t, version)

	require.NoError(t, ts.Set("record", record{A: 10, B: 20}))
	v, version, err = ts.Get("record")
	require.NoError(t, err)
	assert.Equal(t, record{A: 10, B: 20}, v)
	assert.Equal(t, int64(1), version)

	require.NoError(t, ts.Delete("record"))
	_, version, err = ts.Get("record")
	require.NoError(t, err)
	assert.Zero(t, version)
}
