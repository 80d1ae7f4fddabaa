package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// VideoInfo is what ffprobe reports about the first video stream.
type VideoInfo struct {
	Width      int
	Height     int
	FrameCount int
	Duration   float64
}

// Probe inspects a video file with ffprobe.
func Probe(ctx context.Context, videoPath string) (VideoInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,nb_frames,avg_frame_rate,duration",
		"-of", "default=noprint_wrappers=1",
		videoPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe %s: %w, output: %s", videoPath, err, string(output))
	}
	return parseProbeOutput(string(output))
}

// parseProbeOutput reads ffprobe's key=value lines. nb_frames is not
// stored in every container, so it falls back to duration times the
// average frame rate.
func parseProbeOutput(s string) (VideoInfo, error) {
	fields := map[string]string{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		k, v, ok := strings.Cut(line, "=")
		if !ok || v == "N/A" {
			continue
		}
		fields[k] = v
	}

	var info VideoInfo
	var err error
	if info.Width, err = strconv.Atoi(fields["width"]); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe: bad width %q", fields["width"])
	}
	if info.Height, err = strconv.Atoi(fields["height"]); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe: bad height %q", fields["height"])
	}
	if d, ok := fields["duration"]; ok {
		if info.Duration, err = strconv.ParseFloat(d, 64); err != nil {
			return VideoInfo{}, fmt.Errorf("ffprobe: bad duration %q", d)
		}
	}

	if nb, ok := fields["nb_frames"]; ok {
		if info.FrameCount, err = strconv.Atoi(nb); err != nil {
			return VideoInfo{}, fmt.Errorf("ffprobe: bad nb_frames %q", nb)
		}
		return info, nil
	}

	fps, err := parseRate(fields["avg_frame_rate"])
	if err != nil || info.Duration <= 0 {
		return VideoInfo{}, fmt.Errorf("ffprobe: cannot determine frame count (nb_frames missing, rate %q, duration %v)",
			fields["avg_frame_rate"], info.Duration)
	}
	info.FrameCount = int(math.Round(info.Duration * fps))
	return info, nil
}

func parseRate(s string) (float64, error) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return strconv.ParseFloat(s, 64)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("bad frame rate %q", s)
	}
	return n / d, nil
}
