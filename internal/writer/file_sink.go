package writer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"crowdtag/internal/anchors"
)

// FileSink appends lines to <dir>/<base><suffix>.jsonl. The file is opened
// and closed for every record so a crash never leaves a partial buffer.
type FileSink struct {
	dir    string
	suffix string
}

// NewFileSink returns a FileSink writing into dir.
func NewFileSink(dir, suffix string) *FileSink {
	return &FileSink{dir: dir, suffix: suffix}
}

// Path is the output file of am.
func (s *FileSink) Path(am *anchors.AgentMeta) string {
	return filepath.Join(s.dir, am.BaseName+s.suffix+".jsonl")
}

// Append implements Sink.
func (s *FileSink) Append(am *anchors.AgentMeta, line []byte) error {
	f, err := os.OpenFile(s.Path(am), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(append(buf, line...), '\n')
	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("append output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

// Reset deletes the output file of every agent in reg.
func (s *FileSink) Reset(reg *anchors.Registry) error {
	var errs []error
	for _, am := range reg.Agents() {
		if err := os.Remove(s.Path(am)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
