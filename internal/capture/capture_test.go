package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
	"time"
)

func solid(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// ── MJPEG stream ─────────────────────────────────────────────────────────────

func TestMJPEGSource_DeliversEveryFrameThenEOF(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x12}) // leading garbage before the first SOI
	for _, w := range []int{16, 24, 32} {
		stream.Write(jpegBytes(t, solid(w, 8, 128)))
	}

	src := NewMJPEGSource(&stream, false)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var widths []int
	for {
		img, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		widths = append(widths, img.Bounds().Dx())
	}

	if !slices.Equal(widths, []int{16, 24, 32}) {
		t.Errorf("expected widths [16 24 32], got %v", widths)
	}
}

func TestMJPEGSource_NextHonoursContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	src := NewMJPEGSource(pr, true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := src.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	pw.CloseWithError(io.ErrClosedPipe)
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestReadJPEGFrames_EmptyStreamFails(t *testing.T) {
	err := readJPEGFrames(context.Background(), bytes.NewReader(nil), func([]byte) error { return nil })
	if !errors.Is(err, errNoFrames) {
		t.Fatalf("expected errNoFrames, got %v", err)
	}
}

func TestReadJPEGFrames_ClosedPipeReturnsAtOnce(t *testing.T) {
	pr, pw := io.Pipe()
	pw.Close()

	start := time.Now()
	err := readJPEGFrames(context.Background(), pr, func([]byte) error { return nil })
	if !errors.Is(err, errNoFrames) {
		t.Fatalf("expected errNoFrames, got %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("expected immediate return on a closed pipe, took %s", d)
	}
}

// fakeFFmpeg puts an ffmpeg script on PATH that runs body.
func fakeFFmpeg(t *testing.T, body string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	t.Setenv("PATH", dir)
}

func TestStartFFmpeg_DrainsStderrBeforeExit(t *testing.T) {
	fakeFFmpeg(t, `i=0
while [ $i -lt 500 ]; do echo "frame warning $i" >&2; i=$((i+1)); done
exit 1`)

	src, err := StartFFmpeg(context.Background(), FFmpegConfig{Source: "/dev/video0", FPS: 5, Width: 640})
	if err != nil {
		t.Fatalf("StartFFmpeg: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := src.Next(ctx); !errors.Is(err, errNoFrames) {
		t.Fatalf("expected errNoFrames, got %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// ── Slice and directory sources ──────────────────────────────────────────────

func TestSliceSource(t *testing.T) {
	a, b := solid(2, 2, 1), solid(2, 2, 2)
	src := NewSliceSource(a, b)
	ctx := context.Background()

	for i, want := range []image.Image{a, b} {
		got, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if got != want {
			t.Errorf("frame %d: unexpected image", i)
		}
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestSliceSource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSliceSource(solid(1, 1, 0)).Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDirSource_SkipsUndecodableAndNonImages(t *testing.T) {
	dir := t.TempDir()

	writePNG := func(name string, w int) {
		var buf bytes.Buffer
		if err := png.Encode(&buf, solid(w, 4, 9)); err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	writePNG("b.png", 8)
	writePNG("a.png", 4)
	if err := os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewDirSource(dir)
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}
	if src.Len() != 3 {
		t.Errorf("expected 3 candidate files, got %d", src.Len())
	}

	ctx := context.Background()
	var widths []int
	for {
		img, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		widths = append(widths, img.Bounds().Dx())
	}
	if !slices.Equal(widths, []int{4, 8}) {
		t.Errorf("expected widths [4 8], got %v", widths)
	}
}

// ── ffmpeg arguments ─────────────────────────────────────────────────────────

func TestFFmpegArgs(t *testing.T) {
	tests := []struct {
		name    string
		cfg     FFmpegConfig
		want    []string
		notWant []string
	}{
		{
			name: "local device",
			cfg:  FFmpegConfig{Source: "/dev/video0", InputFormat: "v4l2", FPS: 5, Width: 640},
			want: []string{"-f", "v4l2", "-i", "/dev/video0", "fps=5,scale=640:-1"},
		},
		{
			name:    "rtsp ignores input format",
			cfg:     FFmpegConfig{Source: "rtsp://cam/1", InputFormat: "v4l2", FPS: 2, Width: 320},
			want:    []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam/1"},
			notWant: []string{"v4l2"},
		},
		{
			name: "http reconnects",
			cfg:  FFmpegConfig{Source: "http://cam/stream.mjpg", FPS: 1, Width: 320},
			want: []string{"-reconnect", "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := ffmpegArgs(tt.cfg)
			for _, w := range tt.want {
				if !slices.Contains(args, w) {
					t.Errorf("expected %q in %v", w, args)
				}
			}
			for _, w := range tt.notWant {
				if slices.Contains(args, w) {
					t.Errorf("did not expect %q in %v", w, args)
				}
			}
			if args[len(args)-1] != "pipe:1" {
				t.Errorf("expected output to pipe:1, got %q", args[len(args)-1])
			}
		})
	}
}
