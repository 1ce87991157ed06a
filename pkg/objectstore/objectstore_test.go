package objectstore

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://localhost:8080/artifacts/")
	require.NoError(t, err)
	ctx := context.Background()

	key := ArtifactKey(uuid.New(), "console.log(1)")
	url, err := s.Put(ctx, key, []byte("console.log(1)"), "application/javascript")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/artifacts/"+key, url)

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))

	back, ok := s.Key(url + "?t=123")
	assert.True(t, ok)
	assert.Equal(t, key, back)

	_, ok = s.Key("https://elsewhere.example/x.js")
	assert.False(t, ok)
}

func TestLocalStoreMissingKey(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://localhost/artifacts")
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "scenes/nope.js")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://localhost/artifacts")
	require.NoError(t, err)
	_, err = s.Put(context.Background(), "../../etc/passwd", []byte("x"), "text/plain")
	assert.Error(t, err)
}

func TestArtifactKeyIsContentAddressed(t *testing.T) {
	id := uuid.New()
	a := ArtifactKey(id, "a")
	assert.Equal(t, a, ArtifactKey(id, "a"))
	assert.NotEqual(t, a, ArtifactKey(id, "b"))
	assert.True(t, strings.HasPrefix(a, "scenes/"+id.String()+"/"))
	assert.True(t, strings.HasSuffix(a, ".js"))
}
