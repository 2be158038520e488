package media

import (
	"bytes"
	"context"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/d60-Lab/storyline/internal/model"
)

const (
	DefaultQuality = 85

	// 避开视频开头的黑帧
	thumbnailSeek = time.Second
)

type CompressOptions struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
	// Format is "jpeg" or "png"; empty keeps png as png and encodes the rest as jpeg.
	Format string
}

type ThumbnailOptions struct {
	Width   int
	Height  int
	Quality int
}

// DefaultThumbnail is the box used for story thumbnails.
var DefaultThumbnail = ThumbnailOptions{Width: 320, Height: 568, Quality: 75}

// Processor compresses and thumbnails story media.
type Processor struct {
	grabber    FrameGrabber
	bytesSaved atomic.Int64
}

// NewProcessor returns a Processor. grabber may be nil, in which case video
// thumbnails and probes fail with ErrUnsupportedMedia.
func NewProcessor(grabber FrameGrabber) *Processor {
	return &Processor{grabber: grabber}
}

// BytesSaved is the running total saved by CompressImage.
func (p *Processor) BytesSaved() int64 { return p.bytesSaved.Load() }

// CompressImage scales the image to fit within the bounds, never upscaling,
// and re-encodes it. It returns f unchanged when f cannot be decoded, is an
// animated GIF, or when re-encoding would only make it bigger.
func (p *Processor) CompressImage(_ context.Context, f *File, opts CompressOptions) *File {
	src, srcFormat, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return f
	}
	if srcFormat == "gif" && animated(f.Data) {
		return f
	}
	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), opts.MaxWidth, opts.MaxHeight)
	resized := w != b.Dx() || h != b.Dy()

	img := src
	if resized {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		img = dst
	}

	format := opts.Format
	if format == "" {
		format = "jpeg"
		if srcFormat == "png" {
			format = "png"
		}
	}
	data, contentType, err := encode(img, format, opts.Quality)
	if err != nil {
		return f
	}
	if !resized && len(data) >= len(f.Data) {
		return f
	}
	if saved := int64(len(f.Data) - len(data)); saved > 0 {
		p.bytesSaved.Add(saved)
	}
	return &File{Name: renameExt(f.Name, format), ContentType: contentType, Data: data}
}

// GenerateThumbnail scales and center-crops the image, or a frame grabbed
// from the video, to the target box.
func (p *Processor) GenerateThumbnail(ctx context.Context, f *File, opts ThumbnailOptions) (*File, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = DefaultThumbnail.Width, DefaultThumbnail.Height
	}
	kind, _ := KindOf(f.ContentType)

	var src image.Image
	switch kind {
	case model.MediaImage:
		img, _, err := image.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, err
		}
		src = img
	case model.MediaVideo:
		if p.grabber == nil {
			return nil, ErrUnsupportedMedia
		}
		info, err := p.grabber.Probe(ctx, f)
		if err != nil {
			return nil, err
		}
		frame, err := p.grabber.Frame(ctx, f, SeekFor(info.DurationSeconds))
		if err != nil {
			return nil, err
		}
		src = frame
	default:
		return nil, ErrUnsupportedMedia
	}

	dst := cover(src, opts.Width, opts.Height)
	data, contentType, err := encode(dst, "jpeg", opts.Quality)
	if err != nil {
		return nil, err
	}
	return &File{Name: renameExt(f.Name, "thumb.jpeg"), ContentType: contentType, Data: data}, nil
}

// Probe reads dimensions and, for video, duration.
func (p *Processor) Probe(ctx context.Context, f *File) (Info, error) {
	kind, _ := KindOf(f.ContentType)
	switch kind {
	case model.MediaImage:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
		if err != nil {
			return Info{}, err
		}
		return Info{Width: cfg.Width, Height: cfg.Height}, nil
	case model.MediaVideo:
		if p.grabber == nil {
			return Info{}, ErrUnsupportedMedia
		}
		return p.grabber.Probe(ctx, f)
	}
	return Info{}, ErrUnsupportedMedia
}

// SeekFor returns the thumbnail frame offset: min(1s, 10% of duration).
func SeekFor(durationSeconds float64) time.Duration {
	tenth := time.Duration(durationSeconds * float64(time.Second) / 10)
	if tenth < thumbnailSeek {
		return tenth
	}
	return thumbnailSeek
}

// animated reports whether a GIF has more than one frame. Re-encoding would
// keep only the first.
func animated(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	return err == nil && len(g.Image) > 1
}

// fit scales (w,h) down to fit within (maxW,maxH) keeping aspect ratio.
// A non-positive bound is unbounded.
func fit(w, h, maxW, maxH int) (int, int) {
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}
	if scale >= 1 {
		return w, h
	}
	nw, nh := int(float64(w)*scale+0.5), int(float64(h)*scale+0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

// cover scales src to fill a w×h box and crops the overflow around the center.
func cover(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	crop := b
	// 源图比目标更宽时裁两侧，否则裁上下
	if sw*h > sh*w {
		cw := sh * w / h
		x0 := b.Min.X + (sw-cw)/2
		crop = image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	} else {
		ch := sw * h / w
		y0 := b.Min.Y + (sh-ch)/2
		crop = image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}

func encode(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer
	switch format {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	default:
		if quality <= 0 || quality > 100 {
			quality = DefaultQuality
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}

func renameExt(name, ext string) string {
	if name == "" {
		name = "media"
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	if ext == "jpeg" {
		ext = "jpg"
	}
	return name + "." + ext
}
