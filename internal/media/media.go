// Package media compresses images, extracts thumbnails and probes media
// dimensions before a story is uploaded.
package media

import (
	"errors"
	"path"
	"strings"

	"github.com/d60-Lab/storyline/internal/model"
)

// ErrUnsupportedMedia is returned for inputs that are neither image nor video.
var ErrUnsupportedMedia = errors.New("unsupported media")

// File is a media blob held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

func (f *File) Size() int64 { return int64(len(f.Data)) }

// Ext returns the file extension without the dot, derived from the name or
// the content type.
func (f *File) Ext() string {
	if ext := strings.TrimPrefix(path.Ext(f.Name), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if ext, ok := extByType[f.ContentType]; ok {
		return ext
	}
	return "bin"
}

// AllowedTypes lists the MIME types a story may carry.
var AllowedTypes = map[string]model.MediaType{
	"image/jpeg":      model.MediaImage,
	"image/png":       model.MediaImage,
	"image/gif":       model.MediaImage,
	"image/webp":      model.MediaImage,
	"video/mp4":       model.MediaVideo,
	"video/quicktime": model.MediaVideo,
	"video/webm":      model.MediaVideo,
}

var extByType = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
	"video/webm":      "webm",
}

// KindOf maps a MIME type to a story media type.
func KindOf(contentType string) (model.MediaType, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return model.MediaImage, true
	case strings.HasPrefix(ct, "video/"):
		return model.MediaVideo, true
	}
	return "", false
}

// Info carries probed dimensions. DurationSeconds is zero for images.
type Info struct {
	Width           int
	Height          int
	DurationSeconds float64
}
