package storage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/your-org/intelliguard/internal/models"
	"github.com/your-org/intelliguard/internal/vision"
)

var ErrSampleExists = errors.New("sample already exists")

// DirSampleStore keeps the face corpus as image files in one directory.
type DirSampleStore struct {
	dir string
}

func NewDirSampleStore(dir string) (*DirSampleStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir dataset dir: %w", err)
	}
	return &DirSampleStore{dir: dir}, nil
}

// Put writes the sample to a temporary file, syncs it and links it into
// place, so a sample is either fully present or absent and never replaced.
func (s *DirSampleStore) Put(_ context.Context, sample models.FaceSample) error {
	if err := models.ValidateIdentity(sample.Identity); err != nil {
		return err
	}
	data, err := vision.EncodePNG(sample.Image)
	if err != nil {
		return err
	}
	dst := filepath.Join(s.dir, sample.Name())
	if err := writeFileNoReplace(dst, data); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrSampleExists, sample.Name())
		}
		return fmt.Errorf("write sample %s: %w", sample.Name(), err)
	}
	return nil
}

func (s *DirSampleStore) List(_ context.Context) ([]models.SampleRef, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read dataset dir: %w", err)
	}
	var refs []models.SampleRef
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ref, ok := models.ParseSampleName(e.Name()); ok {
			refs = append(refs, ref)
		}
	}
	sortSampleRefs(refs)
	return refs, nil
}

func (s *DirSampleStore) Load(_ context.Context, ref models.SampleRef) (*image.Gray, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(ref.Name)))
	if err != nil {
		return nil, fmt.Errorf("read sample %s: %w", ref.Name, err)
	}
	img, err := vision.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", ref.Name, err)
	}
	return vision.ToGray(img), nil
}

// DirPhotoStore keeps belonging photos under a root directory, using object
// keys as relative paths.
type DirPhotoStore struct {
	root string
}

func NewDirPhotoStore(root string) (*DirPhotoStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir photos dir: %w", err)
	}
	return &DirPhotoStore{root: root}, nil
}

func (s *DirPhotoStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid photo key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *DirPhotoStore) PutObject(_ context.Context, key string, data []byte, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir photo dir: %w", err)
	}
	if err := writeFileNoReplace(p, data); err != nil {
		return fmt.Errorf("put photo %s: %w", key, err)
	}
	return nil
}

func (s *DirPhotoStore) GetObject(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("get photo %s: %w", key, err)
	}
	return data, nil
}

func (s *DirPhotoStore) DeleteObject(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete photo %s: %w", key, err)
	}
	return nil
}

func writeFileNoReplace(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Link(tmp.Name(), dst)
}

func sortSampleRefs(refs []models.SampleRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Identity != refs[j].Identity {
			return refs[i].Identity < refs[j].Identity
		}
		return refs[i].Index < refs[j].Index
	})
}
