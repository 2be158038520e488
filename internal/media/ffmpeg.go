package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// FrameGrabber reads video metadata and single frames.
type FrameGrabber interface {
	Probe(ctx context.Context, f *File) (Info, error)
	Frame(ctx context.Context, f *File, at time.Duration) (image.Image, error)
}

// FFmpeg shells out to ffprobe and ffmpeg.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

func NewFFmpeg() *FFmpeg {
	return &FFmpeg{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

// Available reports whether both binaries are on PATH.
func (g *FFmpeg) Available() bool {
	if _, err := exec.LookPath(g.FFmpegPath); err != nil {
		return false
	}
	_, err := exec.LookPath(g.FFprobePath)
	return err == nil
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (g *FFmpeg) Probe(ctx context.Context, f *File) (Info, error) {
	path, cleanup, err := spill(f)
	if err != nil {
		return Info{}, err
	}
	defer cleanup()

	out, err := exec.CommandContext(ctx, g.FFprobePath,
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height:format=duration",
		"-of", "json", path,
	).Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe: %w", err)
	}
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return Info{}, fmt.Errorf("ffprobe output: %w", err)
	}
	var info Info
	for _, s := range po.Streams {
		if s.CodecType == "video" {
			info.Width, info.Height = s.Width, s.Height
			break
		}
	}
	if po.Format.Duration != "" {
		info.DurationSeconds, _ = strconv.ParseFloat(po.Format.Duration, 64)
	}
	return info, nil
}

func (g *FFmpeg) Frame(ctx context.Context, f *File, at time.Duration) (image.Image, error) {
	path, cleanup, err := spill(f)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.FFmpegPath,
		"-v", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png", "pipe:1",
	)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return png.Decode(&stdout)
}

// spill writes f to a temp file since mp4 containers are not seekable on a pipe.
func spill(f *File) (string, func(), error) {
	tmp, err := os.CreateTemp("", "story-*."+f.Ext())
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(f.Data); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmp.Name(), cleanup, nil
}
