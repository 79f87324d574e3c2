// Package upload turns the three upload shapes (single file, directory tree,
// ZIP archive) into a sequence of units and pushes each through the object
// store one at a time.
package upload

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	apperrors "relecloud/internal/pkg/errors"
	"relecloud/internal/pkg/logger"
	"relecloud/internal/ports"
)

const (
	orphanedKeysField = "orphaned_keys"

	// DefaultMaxEntryBytes bounds a single decompressed archive entry.
	DefaultMaxEntryBytes int64 = 512 << 20
)

var errEntryTooLarge = errors.New("entry exceeds the decompressed size limit")

// Options configures a Normalizer.
type Options struct {
	// DirRoot enables the directory shape: a relative Name that resolves to
	// a directory under DirRoot is walked. Empty disables the shape.
	DirRoot string
	// MaxEntryBytes caps the decompressed size of one ZIP entry. Zero
	// means DefaultMaxEntryBytes.
	MaxEntryBytes int64
	Log           *logger.Logger
	Observer      Observer
}

// Request is one upload. Size is the length of Source, or -1 when unknown.
type Request struct {
	Source io.Reader
	Size   int64
	Name   string
	IsZip  bool
}

// Unit is a single object to upload. It is never persisted.
type Unit struct {
	Key    string
	Reader io.Reader
	Size   int64
}

type Normalizer struct {
	store    ports.ObjectStore
	dirRoot  string
	maxEntry int64
	log      *logger.Logger
	obs      Observer
}

func New(store ports.ObjectStore, opts Options) *Normalizer {
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.MaxEntryBytes <= 0 {
		opts.MaxEntryBytes = DefaultMaxEntryBytes
	}
	return &Normalizer{
		store:    store,
		dirRoot:  opts.DirRoot,
		maxEntry: opts.MaxEntryBytes,
		log:      opts.Log.WithComponent("upload"),
		obs:      opts.Observer,
	}
}

// Upload detects the shape of req and uploads it. It returns the signed URL
// of the single file, the URL of the last archive entry, or "" for a
// directory or an archive without file entries.
func (n *Normalizer) Upload(ctx context.Context, req Request) (string, error) {
	if err := n.ready(req.Name); err != nil {
		return "", err
	}

	switch {
	case req.IsZip:
		return n.UploadZip(ctx, req.Source, req.Name)
	default:
		if dir, ok := n.localDir(req.Name); ok {
			return n.UploadDir(ctx, dir, req.Name)
		}
		return n.UploadFile(ctx, req.Source, req.Size, req.Name)
	}
}

// UploadFile stores src under name.
func (n *Normalizer) UploadFile(ctx context.Context, src io.Reader, size int64, name string) (string, error) {
	if err := n.ready(name); err != nil {
		return "", err
	}
	units := func(yield func(Unit, error) bool) {
		yield(Unit{Key: name, Reader: src, Size: size}, nil)
	}
	return n.run(ctx, ShapeFile, name, units)
}

// UploadZip stores every file entry of the archive in src as
// name/entryPath, in archive order.
func (n *Normalizer) UploadZip(ctx context.Context, src io.Reader, name string) (string, error) {
	if err := n.ready(name); err != nil {
		return "", err
	}
	zr, err := openZip(src)
	if err != nil {
		return "", apperrors.WrapWithCode(err, apperrors.CodeInvalidArchive, "upload.zip", "Invalid ZIP archive").
			WithField("name", name)
	}
	return n.run(ctx, ShapeZip, name, zipUnits(zr, name, n.maxEntry))
}

// UploadDir stores every regular file below dir as name/relPath. Per-file
// URLs are logged, not returned.
func (n *Normalizer) UploadDir(ctx context.Context, dir, name string) (string, error) {
	if err := n.ready(name); err != nil {
		return "", err
	}
	if _, err := n.run(ctx, ShapeDir, name, dirUnits(dir, name)); err != nil {
		return "", err
	}
	return "", nil
}

func (n *Normalizer) ready(name string) error {
	if n == nil || n.store == nil {
		return apperrors.Unsupported("")
	}
	if name == "" {
		return apperrors.ValidationField("name", "upload name is required")
	}
	return nil
}

// localDir resolves name under dirRoot. Names that escape the root are
// treated as plain files.
func (n *Normalizer) localDir(name string) (string, bool) {
	if n.dirRoot == "" || filepath.IsAbs(name) {
		return "", false
	}
	root := filepath.Clean(n.dirRoot)
	p := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	st, err := os.Stat(p)
	if err != nil || !st.IsDir() {
		return "", false
	}
	return p, true
}

// run uploads units in order and stops at the first failure. Keys stored
// before the failure travel on the error, see OrphanedKeys.
func (n *Normalizer) run(ctx context.Context, shape Shape, name string, units iter.Seq2[Unit, error]) (string, error) {
	var (
		last     string
		uploaded []string
	)

	for u, err := range units {
		if err != nil {
			return "", n.fail(ctx, shape, name, uploaded, err)
		}

		start := time.Now()
		out, err := n.store.PutObject(ctx, ports.PutObjectInput{
			ObjectKey: u.Key,
			Reader:    u.Reader,
			Size:      u.Size,
		})
		n.obs.RecordPut(shape, time.Since(start), out.Size, err)
		if err != nil {
			return "", n.fail(ctx, shape, name, uploaded, err)
		}

		uploaded = append(uploaded, u.Key)
		last = out.URL
		n.log.FromContext(ctx).WithObjectKey(u.Key).Info("object uploaded",
			"shape", string(shape),
			"size", out.Size,
			"url", out.URL,
		)
	}

	return last, nil
}

func (n *Normalizer) fail(ctx context.Context, shape Shape, name string, uploaded []string, err error) error {
	wrapped := apperrors.Wrapf(err, "upload."+string(shape), "Failed to upload %s", name).
		WithField("shape", string(shape)).
		WithField("name", name)
	if len(uploaded) > 0 {
		wrapped.WithField(orphanedKeysField, slices.Clone(uploaded))
	}
	n.log.LogError(ctx, "upload failed", err,
		"shape", string(shape),
		"name", name,
		"uploaded_keys", uploaded,
	)
	return wrapped
}

// OrphanedKeys returns the keys stored before err aborted an upload.
func OrphanedKeys(err error) []string {
	keys, _ := apperrors.GetFields(err)[orphanedKeysField].([]string)
	return keys
}

// openZip needs random access; src is buffered in memory unless it already
// provides it.
func openZip(src io.Reader) (*zip.Reader, error) {
	type readerAtSeeker interface {
		io.ReaderAt
		io.Seeker
	}

	if rs, ok := src.(readerAtSeeker); ok {
		size, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, err
		}
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return zip.NewReader(rs, size)
	}

	b, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return zip.NewReader(bytes.NewReader(b), int64(len(b)))
}

// zipUnits yields one unit per file entry. Entries are decompressed fully
// before upload so a corrupt or oversized entry surfaces as INVALID_ARCHIVE.
func zipUnits(zr *zip.Reader, name string, maxEntry int64) iter.Seq2[Unit, error] {
	return func(yield func(Unit, error) bool) {
		for _, f := range zr.File {
			if strings.HasSuffix(f.Name, "/") {
				continue
			}

			content, err := readEntry(f, maxEntry)
			if err != nil {
				yield(Unit{}, apperrors.WrapWithCode(err, apperrors.CodeInvalidArchive, "upload.zip", "Invalid ZIP archive").
					WithField("entry", f.Name))
				return
			}

			u := Unit{Key: name + "/" + f.Name, Reader: bytes.NewReader(content), Size: int64(len(content))}
			if !yield(u, nil) {
				return
			}
		}
	}
}

// readEntry does not trust the declared size alone: the read itself is
// bounded too.
func readEntry(f *zip.File, maxEntry int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(maxEntry) {
		return nil, errEntryTooLarge
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, maxEntry+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > maxEntry {
		return nil, errEntryTooLarge
	}
	return b, nil
}

// dirUnits walks dir in lexical order and yields each regular file. Files
// are opened lazily and closed once the consumer returns.
func dirUnits(dir, name string) iter.Seq2[Unit, error] {
	return func(yield func(Unit, error) bool) {
		stopped := false
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}

			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			defer f.Close()

			size := int64(-1)
			if st, err := f.Stat(); err == nil {
				size = st.Size()
			}

			if !yield(Unit{Key: name + "/" + filepath.ToSlash(rel), Reader: f, Size: size}, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield(Unit{}, apperrors.WrapWithCode(err, apperrors.CodeUpload, "upload.dir", "Failed to read directory").
				WithField("dir", dir))
		}
	}
}
