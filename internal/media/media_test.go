package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/storyline/internal/model"
)

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func pngFile(t *testing.T, w, h int) *File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return &File{Name: "photo.png", ContentType: "image/png", Data: buf.Bytes()}
}

func jpegFile(t *testing.T, w, h int) *File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(w, h), &jpeg.Options{Quality: 100}))
	return &File{Name: "photo.jpg", ContentType: "image/jpeg", Data: buf.Bytes()}
}

func TestCompressImage_ScalesDownKeepingAspect(t *testing.T) {
	p := NewProcessor(nil)
	in := jpegFile(t, 400, 200)

	out := p.CompressImage(context.Background(), in, CompressOptions{MaxWidth: 100, MaxHeight: 100, Quality: 70})
	require.NotSame(t, in, out)
	assert.Equal(t, "image/jpeg", out.ContentType)
	assert.Equal(t, "photo.jpg", out.Name)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
	assert.Greater(t, p.BytesSaved(), int64(0))
}

func TestCompressImage_NeverUpscales(t *testing.T) {
	p := NewProcessor(nil)
	in := pngFile(t, 40, 30)

	out := p.CompressImage(context.Background(), in, CompressOptions{MaxWidth: 1080, MaxHeight: 1920, Format: "png"})
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestCompressImage_UndecodableReturnsOriginal(t *testing.T) {
	p := NewProcessor(nil)
	in := &File{Name: "x.jpg", ContentType: "image/jpeg", Data: []byte("not an image")}

	out := p.CompressImage(context.Background(), in, CompressOptions{MaxWidth: 10})
	assert.Same(t, in, out)
	assert.Equal(t, int64(0), p.BytesSaved())
}

func gifFile(t *testing.T, w, h, frames int) *File {
	t.Helper()
	anim := &gif.GIF{}
	for i := 0; i < frames; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, w, h), palette.Plan9)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				frame.SetColorIndex(x, y, uint8((x+y+i*16)%256))
			}
		}
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 10)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, anim))
	return &File{Name: "a.gif", ContentType: "image/gif", Data: buf.Bytes()}
}

func TestCompressImage_KeepsAnimatedGIF(t *testing.T) {
	p := NewProcessor(nil)
	in := gifFile(t, 400, 400, 5)

	out := p.CompressImage(context.Background(), in, CompressOptions{MaxWidth: 200, MaxHeight: 200})
	assert.Same(t, in, out)
	assert.Equal(t, int64(0), p.BytesSaved())
}

func TestCompressImage_StillGIFIsReencoded(t *testing.T) {
	p := NewProcessor(nil)
	in := gifFile(t, 400, 400, 1)

	out := p.CompressImage(context.Background(), in, CompressOptions{MaxWidth: 200, MaxHeight: 200})
	require.NotSame(t, in, out)
	assert.Equal(t, "a.jpg", out.Name)
	assert.Equal(t, "image/jpeg", out.ContentType)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
}

func TestGenerateThumbnail_Image(t *testing.T) {
	p := NewProcessor(nil)
	thumb, err := p.GenerateThumbnail(context.Background(), pngFile(t, 300, 100), ThumbnailOptions{Width: 64, Height: 64})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", thumb.ContentType)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb.Data))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 64, cfg.Height)
}

type fakeGrabber struct {
	duration float64
	seekedAt time.Duration
	err      error
}

func (g *fakeGrabber) Probe(context.Context, *File) (Info, error) {
	return Info{Width: 1080, Height: 1920, DurationSeconds: g.duration}, g.err
}

func (g *fakeGrabber) Frame(_ context.Context, _ *File, at time.Duration) (image.Image, error) {
	g.seekedAt = at
	return solid(90, 160), nil
}

func TestGenerateThumbnail_VideoSeeksPastLeadingFrames(t *testing.T) {
	video := &File{Name: "clip.mp4", ContentType: "video/mp4", Data: []byte{0, 0, 0, 0x18}}

	cases := []struct {
		duration float64
		want     time.Duration
	}{
		{duration: 3, want: 300 * time.Millisecond},
		{duration: 10, want: time.Second},
		{duration: 60, want: time.Second},
	}
	for _, tc := range cases {
		g := &fakeGrabber{duration: tc.duration}
		p := NewProcessor(g)
		thumb, err := p.GenerateThumbnail(context.Background(), video, ThumbnailOptions{Width: 45, Height: 80})
		require.NoError(t, err)
		assert.NotEmpty(t, thumb.Data)
		assert.Equal(t, tc.want, g.seekedAt)
	}
}

func TestGenerateThumbnail_Failures(t *testing.T) {
	p := NewProcessor(&fakeGrabber{err: errors.New("probe failed")})
	ctx := context.Background()

	_, err := p.GenerateThumbnail(ctx, &File{ContentType: "application/pdf", Data: []byte("%PDF")}, ThumbnailOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedMedia)

	_, err = p.GenerateThumbnail(ctx, &File{ContentType: "image/png", Data: []byte("broken")}, ThumbnailOptions{})
	assert.Error(t, err)

	_, err = p.GenerateThumbnail(ctx, &File{ContentType: "video/mp4", Data: []byte("x")}, ThumbnailOptions{})
	assert.Error(t, err)

	_, err = NewProcessor(nil).GenerateThumbnail(ctx, &File{ContentType: "video/mp4"}, ThumbnailOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestProbe(t *testing.T) {
	p := NewProcessor(&fakeGrabber{duration: 12.5})
	ctx := context.Background()

	info, err := p.Probe(ctx, pngFile(t, 30, 20))
	require.NoError(t, err)
	assert.Equal(t, Info{Width: 30, Height: 20}, info)

	info, err = p.Probe(ctx, &File{ContentType: "video/mp4"})
	require.NoError(t, err)
	assert.Equal(t, 12.5, info.DurationSeconds)

	_, err = p.Probe(ctx, &File{ContentType: "text/plain"})
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestKindOfAndExt(t *testing.T) {
	k, ok := KindOf("image/jpeg; charset=binary")
	assert.True(t, ok)
	assert.Equal(t, model.MediaImage, k)

	k, ok = KindOf("video/webm")
	assert.True(t, ok)
	assert.Equal(t, model.MediaVideo, k)

	_, ok = KindOf("application/octet-stream")
	assert.False(t, ok)

	assert.Equal(t, "mov", (&File{ContentType: "video/quicktime"}).Ext())
	assert.Equal(t, "jpeg", (&File{Name: "A.JPEG"}).Ext())
	assert.Equal(t, "bin", (&File{}).Ext())
}

func TestFit(t *testing.T) {
	w, h := fit(4000, 3000, 1080, 1920)
	assert.Equal(t, 1080, w)
	assert.Equal(t, 810, h)

	w, h = fit(100, 100, 0, 0)
	assert.Equal(t, 100, w)
	assert.Equal(t, 100, h)
}

func TestFFmpegGrabber(t *testing.T) {
	g := NewFFmpeg()
	if !g.Available() {
		t.Skip("ffmpeg not installed")
	}
	_, err := g.Probe(context.Background(), &File{Name: "broken.mp4", ContentType: "video/mp4", Data: []byte("nope")})
	assert.Error(t, err)
}
