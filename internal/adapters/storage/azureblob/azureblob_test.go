package azureblob

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "relecloud/internal/pkg/errors"
	"relecloud/internal/ports"
)

// Well-known development storage key.
const devKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.Code
	}{
		{"already exists", &azcore.ResponseError{ErrorCode: "BlobAlreadyExists", StatusCode: 409}, apperrors.CodeAlreadyExists},
		{"service error", &azcore.ResponseError{ErrorCode: "AuthenticationFailed", StatusCode: 403}, apperrors.CodeUpload},
		{"dial failure", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, apperrors.CodeConnection},
		{"url error", &url.Error{Op: "Put", URL: "https://acct.blob.core.windows.net", Err: errors.New("eof")}, apperrors.CodeConnection},
		{"other", errors.New("boom"), apperrors.CodeUpload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("azureblob.put", "demo.txt", tt.err)
			assert.Equal(t, tt.want, apperrors.GetCode(err))
			assert.Equal(t, "demo.txt", apperrors.GetFields(err)["object_key"])
		})
	}
}

func TestSignedURL(t *testing.T) {
	cred, err := azblob.NewSharedKeyCredential("devstoreaccount1", devKey)
	require.NoError(t, err)

	c := New(nil, cred, "uploads", 0)
	assert.Equal(t, time.Hour, c.ttl)

	expiresAt := time.Date(2026, 10, 15, 13, 0, 0, 0, time.UTC)
	signed, err := c.signedURL("https://devstoreaccount1.blob.core.windows.net/uploads/site.zip/index.html", "site.zip/index.html", expiresAt)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/site.zip/index.html", u.Path)

	q := u.Query()
	assert.Equal(t, "r", q.Get("sp"))
	assert.Equal(t, "https", q.Get("spr"))
	assert.Equal(t, "b", q.Get("sr"))
	assert.NotEmpty(t, q.Get("sig"))

	se, err := time.Parse(time.RFC3339, q.Get("se"))
	require.NoError(t, err)
	assert.True(t, se.Equal(expiresAt), "expiry %s", se)
}

func TestOpen_MalformedConnectionString(t *testing.T) {
	_, err := Open(context.Background(), Options{
		ConnectionString: "not-a-connection-string",
		AccountName:      "devstoreaccount1",
		AccountKey:       devKey,
		ContainerName:    "uploads",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInitialization))
}

func TestOpen_BadAccountKey(t *testing.T) {
	_, err := Open(context.Background(), Options{
		ConnectionString: "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=" + devKey + ";EndpointSuffix=core.windows.net",
		AccountName:      "acct",
		AccountKey:       "%%% not base64 %%%",
		ContainerName:    "uploads",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInitialization))
}

// fakeBlobService answers the subset of the Blob REST API the adapter uses
// for a single account "devstoreaccount1".
type fakeBlobService struct {
	mu         sync.Mutex
	containers map[string]bool
	blobs      map[string][]byte
	types      map[string]string
	deletes    []string
}

func newFakeBlobService(containers ...string) *fakeBlobService {
	f := &fakeBlobService{
		containers: map[string]bool{},
		blobs:      map[string][]byte{},
		types:      map[string]string{},
	}
	for _, c := range containers {
		f.containers[c] = true
	}
	return f
}

func (f *fakeBlobService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") == "" {
		fail(w, http.StatusForbidden, "AuthenticationFailed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/devstoreaccount1/")
	containerName, blobName, _ := strings.Cut(rest, "/")
	if !f.containers[containerName] {
		fail(w, http.StatusNotFound, "ContainerNotFound")
		return
	}

	switch {
	case r.URL.Query().Get("restype") == "container":
		w.Header().Set("ETag", `"0x1"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && r.URL.Query().Get("comp") == "block":
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.blobs[blobName] = body
		f.types[blobName] = r.Header.Get("x-ms-blob-content-type")
		w.Header().Set("ETag", `"0x2"`)
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodDelete:
		f.deletes = append(f.deletes, blobName)
		if _, ok := f.blobs[blobName]; !ok {
			fail(w, http.StatusNotFound, "BlobNotFound")
			return
		}
		delete(f.blobs, blobName)
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// stored returns the body and content type recorded for a blob.
func (f *fakeBlobService) stored(name string) (body, contentType string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blobs[name]
	return string(b), f.types[name], ok
}

func (f *fakeBlobService) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func fail(w http.ResponseWriter, status int, code string) {
	w.Header().Set("x-ms-error-code", code)
	w.WriteHeader(status)
}

func devConnectionString(endpoint string) string {
	return "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=" + devKey +
		";BlobEndpoint=" + endpoint + "/devstoreaccount1;"
}

func openFake(t *testing.T, f *fakeBlobService) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := Open(context.Background(), Options{
		ConnectionString: devConnectionString(srv.URL),
		ContainerName:    "uploads",
		TTL:              30 * time.Minute,
	})
	require.NoError(t, err)
	return c, srv
}

func TestOpen_CredentialsFromConnectionString(t *testing.T) {
	c, _ := openFake(t, newFakeBlobService("uploads"))
	assert.Equal(t, "azure", c.Provider())
	assert.Equal(t, "devstoreaccount1", c.cred.AccountName())
}

func TestOpen_ContainerNotFound(t *testing.T) {
	srv := httptest.NewServer(newFakeBlobService("other"))
	defer srv.Close()

	_, err := Open(context.Background(), Options{
		ConnectionString: devConnectionString(srv.URL),
		ContainerName:    "uploads",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeContainerMissing, apperrors.GetCode(err))
	assert.Equal(t, "uploads", apperrors.GetFields(err)["container"])
}

func TestOpen_NoAccountKey(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"sas connection string", Options{
			ConnectionString: "BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;SharedAccessSignature=sv=2023-01-03&sig=abc",
			ContainerName:    "uploads",
		}},
		{"name only", Options{AccountName: "devstoreaccount1", ContainerName: "uploads"}},
		{"nothing", Options{ContainerName: "uploads"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.opts)
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeInitialization, apperrors.GetCode(err))
		})
	}
}

func TestCredentials(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantName string
		wantKey  string
	}{
		{"explicit fields", Options{AccountName: "a", AccountKey: "k", ConnectionString: "AccountName=b;AccountKey=j"}, "a", "k"},
		{"connection string", Options{ConnectionString: "DefaultEndpointsProtocol=https;AccountName=b;AccountKey=ab==;EndpointSuffix=core.windows.net"}, "b", "ab=="},
		{"key casing and spaces", Options{ConnectionString: " accountname=b ; ACCOUNTKEY=j "}, "b", "j"},
		{"explicit name with key from string", Options{AccountName: "a", ConnectionString: "AccountName=b;AccountKey=j"}, "a", "j"},
		{"no key", Options{ConnectionString: "BlobEndpoint=http://x;SharedAccessSignature=sv=1"}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, key := credentials(tt.opts)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestPutObject(t *testing.T) {
	fake := newFakeBlobService("uploads")
	c, srv := openFake(t, fake)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	out, err := c.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey:   "demo.txt",
		Reader:      strings.NewReader("hello"),
		ContentType: "text/plain",
	})
	require.NoError(t, err)

	assert.Equal(t, "demo.txt", out.ObjectKey)
	assert.Equal(t, int64(5), out.Size)
	assert.Equal(t, now.Add(30*time.Minute), out.ExpiresAt)
	body, contentType, ok := fake.stored("demo.txt")
	require.True(t, ok)
	assert.Equal(t, "hello", body)
	assert.Equal(t, "text/plain", contentType)

	prefix := srv.URL + "/devstoreaccount1/uploads/demo.txt?"
	require.True(t, strings.HasPrefix(out.URL, prefix), out.URL)

	q, err := url.ParseQuery(strings.TrimPrefix(out.URL, prefix))
	require.NoError(t, err)
	assert.Equal(t, "r", q.Get("sp"))
	assert.Equal(t, "https,http", q.Get("spr"), "plain http endpoints must accept the SAS")
	assert.NotEmpty(t, q.Get("sig"))
}

func TestPutObject_ContentTypeFromExtension(t *testing.T) {
	fake := newFakeBlobService("uploads")
	c, _ := openFake(t, fake)

	out, err := c.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey: "site.zip/index.html",
		Reader:    strings.NewReader("<p>"),
	})
	require.NoError(t, err)
	_, contentType, ok := fake.stored("site.zip/index.html")
	require.True(t, ok)
	assert.NotEmpty(t, out.ContentType)
	assert.Equal(t, out.ContentType, contentType)
}

func TestPutObject_RequiresKey(t *testing.T) {
	c, _ := openFake(t, newFakeBlobService("uploads"))

	_, err := c.PutObject(context.Background(), ports.PutObjectInput{Reader: strings.NewReader("x")})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.GetCode(err))
}

func TestCheckContainer_Removed(t *testing.T) {
	fake := newFakeBlobService("uploads")
	c, _ := openFake(t, fake)
	require.NoError(t, c.CheckContainer(context.Background()))

	fake.mu.Lock()
	delete(fake.containers, "uploads")
	fake.mu.Unlock()

	err := c.CheckContainer(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeContainerMissing, apperrors.GetCode(err))
}

func TestDeleteObject(t *testing.T) {
	fake := newFakeBlobService("uploads")
	c, _ := openFake(t, fake)
	ctx := context.Background()

	_, err := c.PutObject(ctx, ports.PutObjectInput{ObjectKey: "a.txt", Reader: strings.NewReader("a")})
	require.NoError(t, err)

	require.NoError(t, c.DeleteObject(ctx, "a.txt"))
	_, _, ok := fake.stored("a.txt")
	assert.False(t, ok)

	// A blob that is already gone is not an error.
	require.NoError(t, c.DeleteObject(ctx, "missing.txt"))
	assert.Equal(t, []string{"a.txt", "missing.txt"}, fake.deleted())
}
