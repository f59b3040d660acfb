package audio

import (
	"fmt"
	"io"
	"os"
)

// Staged is a transient copy of synthesized audio.
type Staged interface {
	// Open returns a fresh reader over the staged bytes.
	Open() (io.ReadCloser, error)
	// Release frees the staging resource.
	Release() error
}

// Stager creates staging resources for one synthesis call.
type Stager interface {
	Stage(data []byte, ext string) (Staged, error)
}

// TempFileStager stages audio in temp files under Dir (os.TempDir when empty).
type TempFileStager struct {
	Dir string
}

// Stage writes data to a new temp file.
func (s TempFileStager) Stage(data []byte, ext string) (Staged, error) {
	if s.Dir != "" {
		if err := os.MkdirAll(s.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
	}
	f, err := os.CreateTemp(s.Dir, "story-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close staging file: %w", err)
	}
	return tempFile(f.Name()), nil
}

type tempFile string

func (t tempFile) Open() (io.ReadCloser, error) {
	return os.Open(string(t))
}

func (t tempFile) Release() error {
	if err := os.Remove(string(t)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
