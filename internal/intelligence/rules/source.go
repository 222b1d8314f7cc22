package rules

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// Source opens the named rule table. A missing table is reported with an
// error wrapping fs.ErrNotExist so Build can treat it as absent.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Describe() string
}

// FileSource reads rule tables from a local directory.
type FileSource struct {
	Dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

func (s *FileSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.Dir, name))
}

func (s *FileSource) Describe() string {
	return "file://" + s.Dir
}
