// Package capture provides the frame sources enrollment and the kiosk
// identify loop read from.
package capture

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/your-org/intelliguard/internal/vision"
)

// Source yields successive frames. Next returns io.EOF once the source is
// exhausted and ctx.Err() when ctx ends first.
type Source interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// SliceSource replays a fixed list of frames, such as uploaded images.
type SliceSource struct {
	frames []image.Image
	pos    int
}

func NewSliceSource(frames ...image.Image) *SliceSource {
	return &SliceSource{frames: frames}
}

func (s *SliceSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *SliceSource) Close() error { return nil }

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// DirSource yields the images of a directory in file name order. Files that
// fail to decode are skipped.
type DirSource struct {
	paths []string
	pos   int
}

func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return &DirSource{paths: paths}, nil
}

// Len is the number of candidate image files.
func (s *DirSource) Len() int { return len(s.paths) }

func (s *DirSource) Next(ctx context.Context) (image.Image, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.pos >= len(s.paths) {
			return nil, io.EOF
		}
		p := s.paths[s.pos]
		s.pos++

		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", p, err)
		}
		img, err := vision.DecodeImage(data)
		if err != nil {
			slog.Warn("skip undecodable frame", "path", p, "error", err)
			continue
		}
		return img, nil
	}
}

func (s *DirSource) Close() error { return nil }
