// Package video decodes uploaded video files into JPEG frames by piping
// them through ffmpeg as an MJPEG stream.
package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
)

var (
	jpegSOI = []byte{0xFF, 0xD8, 0xFF}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ReaderSource splits a concatenated MJPEG byte stream into individual
// JPEG frames.
type ReaderSource struct {
	r   io.ReadCloser
	buf []byte
	eof bool
}

// NewReaderSource wraps r as a frame source.
func NewReaderSource(r io.ReadCloser) *ReaderSource {
	return &ReaderSource{r: r}
}

// Next returns the next complete JPEG frame, or io.EOF when the stream
// is exhausted.
func (s *ReaderSource) Next() ([]byte, error) {
	for {
		if frame, rest, ok := extractFrame(s.buf); ok {
			s.buf = rest
			return frame, nil
		}
		if s.eof {
			return nil, io.EOF
		}

		chunk := make([]byte, 64*1024)
		n, err := s.r.Read(chunk)
		s.buf = append(s.buf, chunk[:n]...)
		if err == io.EOF {
			s.eof = true
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read video stream: %w", err)
		}
	}
}

// Close closes the underlying reader.
func (s *ReaderSource) Close() error {
	return s.r.Close()
}

// extractFrame finds the first complete SOI..EOI span in buf. It
// returns the frame, the remaining bytes, and whether a frame was found.
// Bytes before the SOI marker are discarded.
func extractFrame(buf []byte) (frame, rest []byte, ok bool) {
	start := bytes.Index(buf, jpegSOI)
	if start < 0 {
		return nil, buf, false
	}
	end := bytes.Index(buf[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		return nil, buf, false
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)

	frame = make([]byte, stop-start)
	copy(frame, buf[start:stop])
	return frame, buf[stop:], true
}

// FFmpegSource decodes a video file into JPEG frames with an ffmpeg
// subprocess.
type FFmpegSource struct {
	*ReaderSource
	cmd *exec.Cmd
}

// ffmpegArgs builds the decode-to-MJPEG-pipe argument list.
func ffmpegArgs(path string) []string {
	return []string{
		"-i", path,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}
}

// OpenFile starts ffmpeg on the given video file. Cancelling ctx kills
// the subprocess.
func OpenFile(ctx context.Context, path string) (*FFmpegSource, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(path)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Drain stderr so ffmpeg never blocks on its progress output.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	return &FFmpegSource{
		ReaderSource: NewReaderSource(stdout),
		cmd:          cmd,
	}, nil
}

// Close stops the subprocess and releases the pipe.
func (s *FFmpegSource) Close() error {
	closeErr := s.ReaderSource.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return closeErr
}
