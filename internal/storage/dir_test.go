package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/your-org/intelliguard/internal/models"
	"github.com/your-org/intelliguard/internal/vision/visiontest"
)

func TestDirSampleStore_PutListLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewDirSampleStore(dir)
	if err != nil {
		t.Fatalf("NewDirSampleStore: %v", err)
	}

	faces := map[string]models.FaceSample{
		"200_0.png": {Identity: "200", Index: 0, Image: visiontest.Face(3)},
		"100_1.png": {Identity: "100", Index: 1, Image: visiontest.Face(2)},
		"100_0.png": {Identity: "100", Index: 0, Image: visiontest.Face(1)},
	}
	for _, f := range faces {
		if err := s.Put(ctx, f); err != nil {
			t.Fatalf("Put %s: %v", f.Name(), err)
		}
	}
	// unrelated files are not part of the corpus
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	refs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"100_0.png", "100_1.png", "200_0.png"}
	if len(refs) != len(want) {
		t.Fatalf("expected %d refs, got %d: %v", len(want), len(refs), refs)
	}
	for i, ref := range refs {
		if ref.Name != want[i] {
			t.Errorf("ref %d: got %q, want %q", i, ref.Name, want[i])
		}
		img, err := s.Load(ctx, ref)
		if err != nil {
			t.Fatalf("Load %s: %v", ref.Name, err)
		}
		orig := faces[ref.Name].Image
		for p := range orig.Pix {
			if img.Pix[p] != orig.Pix[p] {
				t.Fatalf("%s: pixel %d differs", ref.Name, p)
			}
		}
	}
}

func TestDirSampleStore_NeverOverwrites(t *testing.T) {
	ctx := context.Background()
	s, err := NewDirSampleStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirSampleStore: %v", err)
	}
	sample := models.FaceSample{Identity: "100", Index: 0, Image: visiontest.Face(1)}
	if err := s.Put(ctx, sample); err != nil {
		t.Fatalf("Put: %v", err)
	}
	sample.Image = visiontest.Face(2)
	if err := s.Put(ctx, sample); !errors.Is(err, ErrSampleExists) {
		t.Fatalf("expected ErrSampleExists, got %v", err)
	}
}

func TestDirSampleStore_RejectsInvalidIdentity(t *testing.T) {
	s, err := NewDirSampleStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirSampleStore: %v", err)
	}
	err = s.Put(context.Background(), models.FaceSample{Identity: "../x", Index: 0, Image: visiontest.Face(1)})
	if !errors.Is(err, models.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestDirPhotoStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewDirPhotoStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirPhotoStore: %v", err)
	}

	key := "belongings/100/20260115/laptop_101500_ab12.jpg"
	if err := s.PutObject(ctx, key, []byte("jpeg"), "image/jpeg"); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	data, err := s.GetObject(ctx, key)
	if err != nil || string(data) != "jpeg" {
		t.Fatalf("GetObject = %q, %v", data, err)
	}
	if err := s.DeleteObject(ctx, key); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if _, err := s.GetObject(ctx, key); err == nil {
		t.Fatal("expected error after delete")
	}
	if err := s.DeleteObject(ctx, key); err != nil {
		t.Errorf("deleting a missing photo should succeed, got %v", err)
	}
	if err := s.PutObject(ctx, "../escape.jpg", []byte("x"), "image/jpeg"); err == nil {
		t.Error("expected error for key escaping the root")
	}
}
