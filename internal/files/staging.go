package files

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatforge/backend/pkg/textextract"
)

// ErrUnsupportedType rejects uploads whose extension is not in the
// accepted set.
var ErrUnsupportedType = fmt.Errorf("unsupported file type, accepted: %s", strings.Join(textextract.Extensions(), ", "))

// Staged describes a file written to the staging directory, waiting to
// be forwarded to the assistant provider.
type Staged struct {
	Path      string
	Name      string
	SizeBytes int64
	Pages     int
}

// Staging holds uploads on local disk between the HTTP request and the
// provider attach call. Staged files are always removed afterwards,
// whether the attach succeeded or not.
type Staging struct {
	dir    string
	logger *slog.Logger
}

func NewStaging(dir string, logger *slog.Logger) (*Staging, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Staging{dir: dir, logger: logger}, nil
}

// Put writes the upload to the staging directory under a fresh name
// and probes it for page count. The original name survives only in
// the returned Staged and in the stored file metadata.
func (s *Staging) Put(name string, r io.Reader) (*Staged, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !textextract.Supported(ext) {
		return nil, ErrUnsupportedType
	}

	path := filepath.Join(s.dir, uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.Remove(path)
		return nil, fmt.Errorf("write staged file: %w", err)
	}

	staged := &Staged{Path: path, Name: filepath.Base(name), SizeBytes: size, Pages: 1}
	if doc, err := textextract.Extract(path); err == nil {
		staged.Pages = doc.Pages
	} else {
		s.logger.Warn("file probe failed", "name", staged.Name, "error", err)
	}
	return staged, nil
}

// Remove deletes a staged file. Failures are logged, not returned:
// cleanup must never mask the outcome of the operation that staged
// the file.
func (s *Staging) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("staged file cleanup failed", "path", path, "error", err)
	}
}

// Sweep removes staged files older than maxAge. Run periodically to
// catch leftovers from crashed uploads.
func (s *Staging) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			s.Remove(filepath.Join(s.dir, e.Name()))
			removed++
		}
	}
	return removed, nil
}
