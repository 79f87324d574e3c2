package localfs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "relecloud/internal/pkg/errors"
	"relecloud/internal/ports"
)

func newStore(t *testing.T, now func() time.Time) (*LocalFS, string) {
	t.Helper()
	root := t.TempDir()
	l, err := Open(context.Background(), Options{
		Root:       root,
		BaseURL:    "http://blobs.test/blobs/",
		SigningKey: "secret",
		TTL:        time.Hour,
		Now:        now,
	})
	require.NoError(t, err)
	return l, root
}

func TestOpen_ContainerMissing(t *testing.T) {
	_, err := Open(context.Background(), Options{Root: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeContainerMissing))
}

func TestOpen_RootIsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))

	_, err := Open(context.Background(), Options{Root: p})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInitialization))
}

func TestPutObject_SignedURL(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	l, root := newStore(t, func() time.Time { return now })

	out, err := l.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey: "demo.txt",
		Reader:    strings.NewReader("0123456789"),
		Size:      10,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10), out.Size)
	assert.Equal(t, now.Add(time.Hour), out.ExpiresAt)
	assert.True(t, strings.HasPrefix(out.ContentType, "text/plain"))

	u, err := url.Parse(out.URL)
	require.NoError(t, err)
	assert.Equal(t, "/blobs/demo.txt", u.Path)
	assert.Equal(t, "r", u.Query().Get("sp"))
	assert.Equal(t, "2026-10-15T13:00:00Z", u.Query().Get("se"))
	assert.NotEmpty(t, u.Query().Get("sig"))

	b, err := os.ReadFile(filepath.Join(root, "demo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(b))
}

func TestPutObject_Overwrites(t *testing.T) {
	l, root := newStore(t, nil)
	ctx := context.Background()

	for _, content := range []string{"first", "second"} {
		_, err := l.PutObject(ctx, ports.PutObjectInput{ObjectKey: "site/a.txt", Reader: strings.NewReader(content)})
		require.NoError(t, err)
	}

	b, err := os.ReadFile(filepath.Join(root, "site", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))
}

func TestPutObject_Rejects(t *testing.T) {
	l, _ := newStore(t, nil)
	ctx := context.Background()

	_, err := l.PutObject(ctx, ports.PutObjectInput{ObjectKey: "", Reader: strings.NewReader("x")})
	assert.True(t, apperrors.IsValidation(err))

	_, err = l.PutObject(ctx, ports.PutObjectInput{ObjectKey: "site.zip/../../escape.txt", Reader: strings.NewReader("x")})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUpload))
}

func TestDeleteObject(t *testing.T) {
	l, root := newStore(t, nil)
	ctx := context.Background()

	_, err := l.PutObject(ctx, ports.PutObjectInput{ObjectKey: "gone.txt", Reader: strings.NewReader("x")})
	require.NoError(t, err)

	require.NoError(t, l.DeleteObject(ctx, "gone.txt"))
	_, err = os.Stat(filepath.Join(root, "gone.txt"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, l.DeleteObject(ctx, "gone.txt"), "deleting a missing key is not an error")
}

func TestServeHTTP(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	l, _ := newStore(t, clock)

	out, err := l.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey: "site.zip/sub/b.txt",
		Reader:    strings.NewReader("hello"),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(http.StripPrefix("/blobs", l))
	defer srv.Close()
	signed := strings.Replace(out.URL, "http://blobs.test", srv.URL, 1)

	t.Run("valid signature", func(t *testing.T) {
		resp, err := http.Get(signed)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "hello", string(body))
		assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	})

	t.Run("tampered key", func(t *testing.T) {
		resp, err := http.Get(strings.Replace(signed, "b.txt", "c.txt", 1))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("write permission", func(t *testing.T) {
		resp, err := http.Get(strings.Replace(signed, "sp=r", "sp=w", 1))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("expired", func(t *testing.T) {
		now = now.Add(time.Hour + time.Second)
		defer func() { now = now.Add(-time.Hour - time.Second) }()

		resp, err := http.Get(signed)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
