// Package storage owns the downloads directory layout and writes files
// through temp file + rename so concurrent or repeated writes of the same
// path are idempotent overwrites.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/blockedby/tgsaver/internal/classify"
	"github.com/blockedby/tgsaver/internal/logger"
)

// ErrPersist is matched by every PersistError.
var ErrPersist = errors.New("persist failed")

// PersistError is a failed filesystem write.
type PersistError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersist) work.
func (e *PersistError) Is(target error) bool { return target == ErrPersist }

// Result describes one persisted file.
type Result struct {
	Path      string
	Bytes     int64
	Category  classify.Category
	MessageID int
	MimeType  string
}

// Store is the downloads tree.
type Store struct {
	root string
	log  *logger.Logger
}

var folders = []string{
	classify.FolderMedia,
	classify.FolderText,
	classify.FolderCaption,
	classify.FolderService,
	classify.FolderExports,
}

// New creates the directory layout under root.
func New(root string) (*Store, error) {
	for _, dir := range folders {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, &PersistError{Op: "mkdir", Path: filepath.Join(root, dir), Err: err}
		}
	}
	return &Store{root: root, log: logger.Get().With("storage")}, nil
}

// Root returns the downloads root.
func (s *Store) Root() string { return s.root }

// Path returns the destination of a record.
func (s *Store) Path(rec classify.Record) string {
	return filepath.Join(s.root, rec.Folder(), rec.FileName)
}

// ExportDir creates exports/<channelKey>_<start>-<end>_<YYYYMMDD_HHMMSS>/ with a media subfolder.
func (s *Store) ExportDir(channelKey string, start, end int, at time.Time) (string, error) {
	name := fmt.Sprintf("%s_%d-%d_%s", channelKey, start, end, at.Format("20060102_150405"))
	dir := filepath.Join(s.root, classify.FolderExports, name)
	if err := os.MkdirAll(filepath.Join(dir, "media"), 0o755); err != nil {
		return "", &PersistError{Op: "mkdir", Path: dir, Err: err}
	}
	return dir, nil
}

// TextBody renders the text file format. The date is the message date so
// re-downloading produces byte identical files.
func TextBody(source string, date time.Time, text string) string {
	var b strings.Builder
	b.WriteString("Source: ")
	b.WriteString(source)
	b.WriteString("\n")
	if !date.IsZero() {
		b.WriteString("Date: ")
		b.WriteString(date.UTC().Format("2006-01-02 15:04:05 UTC"))
		b.WriteString("\n")
	}
	b.WriteString(strings.Repeat("-", 50))
	b.WriteString("\n\n")
	b.WriteString(text)
	return b.String()
}

// WriteText persists a text, caption or service record.
func (s *Store) WriteText(rec classify.Record, source string, date time.Time) (Result, error) {
	path := s.Path(rec)
	body := TextBody(source, date, rec.Text)

	n, err := AtomicWrite(path, func(f *os.File) (int64, error) {
		n, err := f.WriteString(body)
		return int64(n), err
	})
	if err != nil {
		return Result{}, err
	}
	s.log.Debug().Str("path", path).Str("category", string(rec.Category)).Msg("storage: text written")
	return Result{Path: path, Bytes: n, Category: rec.Category, MessageID: rec.MessageID, MimeType: "text/plain"}, nil
}

// WriteMedia persists a media record; fill streams the bytes into the temp file.
func (s *Store) WriteMedia(rec classify.Record, fill func(f *os.File) (int64, error)) (Result, error) {
	path := s.Path(rec)
	n, err := AtomicWrite(path, fill)
	if err != nil {
		return Result{}, err
	}

	res := Result{Path: path, Bytes: n, Category: rec.Category, MessageID: rec.MessageID}
	if rec.Media != nil {
		res.MimeType = rec.Media.MimeType
	}
	// telegram does not always know the mime of documents
	if res.MimeType == "" {
		if mt, err := mimetype.DetectFile(path); err == nil {
			res.MimeType = mt.String()
		}
	}
	s.log.Debug().Str("path", path).Int64("bytes", n).Str("category", string(rec.Category)).Msg("storage: media written")
	return res, nil
}

// AtomicWrite fills a temp file next to path and renames it into place.
// On failure the temp file is removed and the previous file, if any, is untouched.
func AtomicWrite(path string, fill func(f *os.File) (int64, error)) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, &PersistError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, &PersistError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	n, err := fill(tmp)
	if err != nil {
		_ = tmp.Close()
		return n, &PersistError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return n, &PersistError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return n, &PersistError{Op: "rename", Path: path, Err: err}
	}
	return n, nil
}
