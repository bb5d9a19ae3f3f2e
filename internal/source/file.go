package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"tileview/internal/tile"
)

// FileSource serves tiles from a directory laid out as {dir}/{z}/{x}/{y}.{ext}.
// Lookups are synchronous; a missing or unreadable file delegates.
type FileSource struct {
	base
	dir string
	ext string
}

func NewFileSource(env Env, opts Options, dir, ext string) (*FileSource, error) {
	b, err := newBase(env, opts, "file")
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("source: file source %s needs a directory", opts.ID)
	}
	if ext == "" {
		ext = "png"
	}
	return &FileSource{base: b, dir: dir, ext: strings.TrimPrefix(ext, ".")}, nil
}

func (s *FileSource) Path(k tile.Key) string {
	return filepath.Join(s.dir,
		fmt.Sprintf("%d", k.Zoom),
		fmt.Sprintf("%d", k.X),
		fmt.Sprintf("%d.%s", k.Y, s.ext))
}

func (s *FileSource) Fill(req *Request) {
	key := req.Key()
	if !s.covers(key) {
		s.delegate(req)
		return
	}

	path := s.Path(key)
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to stat tile file", zap.String("path", path), zap.Error(err))
		}
		s.result("miss")
		s.delegate(req)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("Failed to read tile file", zap.String("path", path), zap.Error(err))
		s.result("error")
		s.delegate(req)
		return
	}
	img, err := Decode(data)
	if err != nil {
		s.logger.Debug("Corrupt tile file", zap.String("path", path), zap.Error(err))
		s.result("error")
		s.delegate(req)
		return
	}
	s.result("hit")
	req.Complete(s.ID(), img, data, "", info.ModTime())
}
