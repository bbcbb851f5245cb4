package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// FFmpegConfig selects the camera or stream to read.
type FFmpegConfig struct {
	// Source is a device path (/dev/video0) or an rtsp/http URL.
	Source string
	// InputFormat is passed as -f before the input, e.g. v4l2 or dshow.
	InputFormat string
	FPS         int
	Width       int
}

// ffmpegArgs builds the command line that turns the source into an MJPEG
// stream on stdout.
func ffmpegArgs(cfg FFmpegConfig) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	switch {
	case strings.HasPrefix(cfg.Source, "rtsp://") || strings.HasPrefix(cfg.Source, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	case strings.HasPrefix(cfg.Source, "http://") || strings.HasPrefix(cfg.Source, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	case cfg.InputFormat != "":
		args = append(args, "-f", cfg.InputFormat)
	}

	args = append(args,
		"-i", cfg.Source,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-1", cfg.FPS, cfg.Width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
	return args
}

// StreamSource decodes a stream of concatenated JPEG frames read in the
// background. With dropStale set only the newest undelivered frame is kept,
// which suits live cameras; otherwise every frame is delivered in order.
type StreamSource struct {
	frames    chan image.Image
	dropStale bool

	cancel context.CancelFunc
	done   chan struct{}
	errMu  sync.Mutex
	err    error
}

// NewMJPEGSource reads JPEG frames from r until it ends or Close is called.
func NewMJPEGSource(r io.Reader, dropStale bool) *StreamSource {
	return startStream(func(ctx context.Context, cb frameCallback) error {
		return readJPEGFrames(ctx, r, cb)
	}, dropStale)
}

// StartFFmpeg launches ffmpeg for the configured source. The process is
// killed by Close.
func StartFFmpeg(ctx context.Context, cfg FFmpegConfig) (*StreamSource, error) {
	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, "ffmpeg", ffmpegArgs(cfg)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	slog.Info("capture started", "source", cfg.Source, "fps", cfg.FPS, "width", cfg.Width)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	s := startStream(func(ctx context.Context, cb frameCallback) error {
		err := readJPEGFrames(ctx, stdout, cb)
		cancel()
		// Wait closes the pipes, so stderr must be drained first.
		<-stderrDone
		waitErr := cmd.Wait()
		if err != nil {
			return err
		}
		if waitErr != nil && cmdCtx.Err() == nil {
			return fmt.Errorf("ffmpeg exited: %w", waitErr)
		}
		return nil
	}, true)

	prev := s.cancel
	s.cancel = func() {
		prev()
		cancel()
	}
	return s, nil
}

func startStream(run func(ctx context.Context, cb frameCallback) error, dropStale bool) *StreamSource {
	ctx, cancel := context.WithCancel(context.Background())
	s := &StreamSource{
		frames:    make(chan image.Image, 1),
		dropStale: dropStale,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.frames)

		err := run(ctx, func(data []byte) error {
			img, err := jpeg.Decode(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("decode frame: %w", err)
			}
			return s.offer(ctx, img)
		})
		if err == nil || ctx.Err() != nil {
			err = io.EOF
		}
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
	}()
	return s
}

func (s *StreamSource) offer(ctx context.Context, img image.Image) error {
	if s.dropStale {
		for {
			select {
			case s.frames <- img:
				return nil
			default:
			}
			select {
			case <-s.frames:
			default:
			}
		}
	}
	select {
	case s.frames <- img:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StreamSource) Next(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case img, ok := <-s.frames:
		if ok {
			return img, nil
		}
		s.errMu.Lock()
		defer s.errMu.Unlock()
		return nil, s.err
	}
}

// Close stops reading and waits for the background reader to exit.
func (s *StreamSource) Close() error {
	s.cancel()
	<-s.done
	return nil
}

type frameCallback func(frameData []byte) error

var errNoFrames = errors.New("no frames received")

// readJPEGFrames reads a stream of concatenated JPEG images until r ends.
// Reads block while the producer connects, so an EOF is final.
func readJPEGFrames(ctx context.Context, r io.Reader, callback frameCallback) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	framesRead := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := findJPEGStart(reader)
		if err != nil {
			if err == io.EOF {
				if framesRead > 0 {
					return nil
				}
				return errNoFrames
			}
			return err
		}

		frameData, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF && framesRead > 0 {
				return nil // stream ended mid-frame
			}
			return err
		}

		framesRead++
		if err := callback(frameData); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("frame callback error", "error", err)
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large: %s bytes", strconv.Itoa(len(data)))
		}
	}
}
