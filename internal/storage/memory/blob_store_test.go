package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutAndGet(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()

	uri, err := s.PutObject(context.Background(), "snapshots/a.json", "application/json", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, "memory://snapshots/a.json", uri)

	data, ok := s.Get("snapshots/a.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, 1, s.Len())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestBlobStoreCopiesData(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	payload := []byte("original")
	_, err := s.PutObject(context.Background(), "p", "text/plain", payload)
	require.NoError(t, err)

	payload[0] = 'X'
	data, ok := s.Get("p")
	require.True(t, ok)
	assert.Equal(t, "original", string(data))
}
