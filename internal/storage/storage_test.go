package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memtech/internal/config"
)

func TestProjectKeys(t *testing.T) {
	assert.Equal(t, "projects/p1/", ProjectPrefix("p1"))
	assert.Equal(t, "projects/p1/reference/RC/rc.pdf", ProjectKey("p1", "reference", "RC", "rc.pdf"))
}

func TestCleanKey(t *testing.T) {
	k, err := CleanKey("projects/p1//a.txt")
	require.NoError(t, err)
	assert.Equal(t, "projects/p1/a.txt", k)
	k, err = CleanKey("projects/p1/")
	require.NoError(t, err)
	assert.Equal(t, "projects/p1/", k)
	for _, bad := range []string{"", "/etc/passwd", "projects/../secret", ".."} {
		_, err := CleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestLocalRoundTripAndPrefixDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(filepath.Join(t.TempDir(), "files"))
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, ProjectKey("p1", "memoires", "a.docx"), strings.NewReader("hello"), 5, "application/octet-stream"))
	require.NoError(t, store.Put(ctx, ProjectKey("p2", "b.txt"), strings.NewReader("other"), 5, "text/plain"))

	rc, err := store.Get(ctx, "projects/p1/memoires/a.docx")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))

	require.NoError(t, store.DeletePrefix(ctx, ProjectPrefix("p1")))
	_, err = store.Get(ctx, "projects/p1/memoires/a.docx")
	assert.True(t, errors.Is(err, ErrNotFound))

	rc, err = store.Get(ctx, "projects/p2/b.txt")
	require.NoError(t, err)
	rc.Close()

	// deleting an absent prefix is fine
	require.NoError(t, store.DeletePrefix(ctx, ProjectPrefix("missing")))
}

func TestNewSelectsDriver(t *testing.T) {
	s, err := New(config.StorageConfig{Driver: "local"}, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	s, err = New(config.StorageConfig{Driver: "s3", Endpoint: "localhost:9000", Bucket: "memtech", AccessKey: "k", SecretKey: "s"}, "")
	require.NoError(t, err)
	assert.IsType(t, &S3{}, s)

	_, err = New(config.StorageConfig{Driver: "ftp"}, "")
	assert.Error(t, err)
}
