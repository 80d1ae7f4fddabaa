package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
)

// frameStream is one running ffmpeg decode, emitting raw rgb24 frames
// on stdout.
type frameStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	width  int
	height int
	buf    []byte
	done   bool
}

func openFrameStream(ctx context.Context, videoPath string, info VideoInfo, resizeDims []int) (*frameStream, error) {
	width, height := info.Width, info.Height
	args := []string{"-v", "error", "-i", videoPath}
	if len(resizeDims) == 2 {
		height, width = resizeDims[0], resizeDims[1]
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", width, height))
	}
	args = append(args, "-f", "rawvideo", "-pix_fmt", "rgb24", "pipe:1")

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg for %s: %w", videoPath, err)
	}

	return &frameStream{
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
		width:  width,
		height: height,
		buf:    make([]byte, width*height*3),
	}, nil
}

// readFrame returns the next raw frame. The returned slice is reused by
// the next call; io.EOF means the decode finished cleanly. Once the
// stream has hit EOF every further call keeps returning io.EOF, so
// callers that return a padded trailing sequence can safely read again.
func (s *frameStream) readFrame() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	_, err := io.ReadFull(s.stdout, s.buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		s.done = true
		if s.cmd != nil {
			if werr := s.cmd.Wait(); werr != nil {
				return nil, fmt.Errorf("ffmpeg error: %w, output: %s", werr, s.stderr.String())
			}
			s.cmd = nil
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return s.buf, nil
}

func (s *frameStream) close() {
	s.stdout.Close()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
}
