package files

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStaging(t *testing.T) *Staging {
	t.Helper()
	s, err := NewStaging(t.TempDir(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return s
}

func TestPutStagesAndProbes(t *testing.T) {
	s := newStaging(t)

	staged, err := s.Put("notes.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", staged.Name)
	assert.Equal(t, int64(11), staged.SizeBytes)
	assert.Equal(t, 1, staged.Pages)

	data, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	s.Remove(staged.Path)
	_, err = os.Stat(staged.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestPutRejectsUnsupportedType(t *testing.T) {
	s := newStaging(t)

	_, err := s.Put("malware.exe", strings.NewReader("nope"))
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestPutStripsDirectoryFromName(t *testing.T) {
	s := newStaging(t)

	staged, err := s.Put("../../etc/passwd.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "passwd.txt", staged.Name)
	assert.Equal(t, filepath.Dir(staged.Path), filepath.Clean(filepath.Dir(staged.Path)))
}

func TestRemoveMissingFileIsQuiet(t *testing.T) {
	s := newStaging(t)
	s.Remove(filepath.Join(t.TempDir(), "never-existed.txt"))
}

func TestSweepRemovesOnlyOldFiles(t *testing.T) {
	s := newStaging(t)

	old, err := s.Put("old.txt", strings.NewReader("stale"))
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old.Path, past, past))

	fresh, err := s.Put("fresh.txt", strings.NewReader("new"))
	require.NoError(t, err)

	removed, err := s.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Path)
	assert.NoError(t, err)
}
