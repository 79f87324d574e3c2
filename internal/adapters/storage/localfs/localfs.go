package localfs

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "relecloud/internal/pkg/errors"
	"relecloud/internal/ports"
)

// Options configures a LocalFS store.
type Options struct {
	// Root is the directory acting as the container. It must exist.
	Root string
	// BaseURL is where the store's ServeHTTP is reachable, without a
	// trailing slash (e.g. http://localhost:8080/blobs).
	BaseURL string
	// SigningKey signs URLs. When empty a random key is generated, so URLs
	// do not survive a restart.
	SigningKey string
	TTL        time.Duration
	Now        func() time.Time
}

// LocalFS implements ports.ObjectStore on the local filesystem. Signed URLs
// carry an HMAC over key, permission and expiry, checked by ServeHTTP.
type LocalFS struct {
	root    string
	baseURL string
	key     []byte
	ttl     time.Duration
	now     func() time.Time
}

func New(opts Options) *LocalFS {
	key := []byte(opts.SigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LocalFS{
		root:    filepath.Clean(opts.Root),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		key:     key,
		ttl:     opts.TTL,
		now:     opts.Now,
	}
}

// Open builds the store and verifies the root directory exists.
func Open(ctx context.Context, opts Options) (*LocalFS, error) {
	l := New(opts)
	if err := l.CheckContainer(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *LocalFS) Provider() string { return "localfs" }

func (l *LocalFS) CheckContainer(ctx context.Context) error {
	st, err := os.Stat(l.root)
	if errors.Is(err, fs.ErrNotExist) {
		return apperrors.Newf(apperrors.CodeContainerMissing, "Container %s not found", l.root).
			WithField("container", l.root)
	}
	if err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeInitialization, "localfs.open", "Failed to initialize storage client")
	}
	if !st.IsDir() {
		return apperrors.Newf(apperrors.CodeInitialization, "storage root %s is not a directory", l.root)
	}
	return nil
}

func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, apperrors.ValidationField("object_key", "object key is required")
	}

	dst, err := l.resolve(in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ports.PutObjectOutput{}, uploadFailure(in.ObjectKey, err)
	}

	outF, err := os.Create(dst)
	if err != nil {
		return ports.PutObjectOutput{}, uploadFailure(in.ObjectKey, err)
	}
	defer outF.Close()

	n, err := io.Copy(outF, in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, uploadFailure(in.ObjectKey, err)
	}

	expiresAt := l.now().UTC().Add(l.ttl)
	return ports.PutObjectOutput{
		ObjectKey:   in.ObjectKey,
		ContentType: in.ResolveContentType(),
		Size:        n,
		URL:         l.signedURL(in.ObjectKey, expiresAt),
		ExpiresAt:   expiresAt,
	}, nil
}

func (l *LocalFS) DeleteObject(ctx context.Context, key string) error {
	p, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.WrapWithCode(err, apperrors.CodeUpload, "localfs.delete", "Failed to delete file")
	}
	return nil
}

// ServeHTTP serves an object when the request carries a valid, unexpired
// signature. Mount it under the path of BaseURL with the prefix stripped.
func (l *LocalFS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/")
	if !l.verify(key, r.URL.Query()) {
		http.Error(w, "signature invalid or expired", http.StatusForbidden)
		return
	}

	p, err := l.resolve(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", ports.ContentType(key))
	http.ServeContent(w, r, "", st.ModTime(), f)
}

// resolve maps key to a path under root, rejecting keys that would escape it
// (zip entries such as "../x" arrive here verbatim).
func (l *LocalFS) resolve(key string) (string, error) {
	p := filepath.Join(l.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperrors.Newf(apperrors.CodeUpload, "Failed to upload file: object key %q escapes storage root", key).
			WithField("object_key", key)
	}
	return p, nil
}

func (l *LocalFS) signedURL(key string, expiresAt time.Time) string {
	se := expiresAt.Format(time.RFC3339)
	q := url.Values{}
	q.Set("se", se)
	q.Set("sp", "r")
	q.Set("sig", l.sign(key, "r", se))
	return l.baseURL + (&url.URL{Path: "/" + key}).EscapedPath() + "?" + q.Encode()
}

func (l *LocalFS) verify(key string, q url.Values) bool {
	se, sp, sig := q.Get("se"), q.Get("sp"), q.Get("sig")
	if sp != "r" || se == "" || sig == "" {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339, se)
	if err != nil || !l.now().Before(expiresAt) {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(l.sign(key, sp, se)))
}

func (l *LocalFS) sign(key, perm, expiry string) string {
	mac := hmac.New(sha256.New, l.key)
	mac.Write([]byte(key + "\n" + perm + "\n" + expiry))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func uploadFailure(key string, err error) error {
	return apperrors.WrapWithCode(err, apperrors.CodeUpload, "localfs.put", "Failed to upload file").
		WithField("object_key", key)
}

var _ ports.ObjectStore = (*LocalFS)(nil)
