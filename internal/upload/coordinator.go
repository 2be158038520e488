// Package upload creates stories: it validates and compresses media,
// uploads it with retries and records the story, undoing completed steps
// when a later one fails.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/gabriel-vasile/mimetype"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/config"
	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/blob"
	"github.com/d60-Lab/storyline/internal/cache"
	"github.com/d60-Lab/storyline/internal/interactive"
	"github.com/d60-Lab/storyline/internal/media"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/repository"
	"github.com/d60-Lab/storyline/pkg/logger"
	"github.com/d60-Lab/storyline/pkg/tracing"
)

const (
	DefaultMaxUploadBytes = 100 << 20
	DefaultAttempts       = 3
	MaxDurationHours      = 48

	rollbackTimeout = 10 * time.Second
)

// Options tunes the coordinator.
type Options struct {
	MaxUploadBytes       int64
	Attempts             int
	RetryBaseDelay       time.Duration
	DefaultDurationHours int
	Compress             media.CompressOptions
	Thumbnail            media.ThumbnailOptions
}

// OptionsFrom maps the story config section.
func OptionsFrom(cfg config.StoryConfig) Options {
	return Options{
		MaxUploadBytes:       cfg.MaxUploadBytes,
		Attempts:             cfg.UploadAttempts,
		RetryBaseDelay:       cfg.RetryBaseDelay,
		DefaultDurationHours: cfg.DefaultDurationHours,
		Compress:             media.CompressOptions{MaxWidth: 1080, MaxHeight: 1920, Quality: media.DefaultQuality},
		Thumbnail:            media.DefaultThumbnail,
	}
}

// CreateOptions is one story submission.
type CreateOptions struct {
	File          *media.File
	Caption       *string
	Location      *string
	Privacy       model.Privacy
	Allow         []string
	Deny          []string
	DurationHours int
	Elements      []interactive.ElementInput
	Mentions      []string
}

// Coordinator runs the create-story saga.
type Coordinator struct {
	opts      Options
	processor *media.Processor
	blobs     blob.Store
	stories   repository.StoryRepository
	elements  repository.ElementRepository
	audience  repository.AudienceRepository
	events    repository.EventRepository
	validator *interactive.Validator
	feeds     cache.FeedCache
	now       func() time.Time
}

func NewCoordinator(
	opts Options,
	processor *media.Processor,
	blobs blob.Store,
	stories repository.StoryRepository,
	elements repository.ElementRepository,
	audience repository.AudienceRepository,
	events repository.EventRepository,
	validator *interactive.Validator,
	feeds cache.FeedCache,
) *Coordinator {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.DefaultDurationHours <= 0 {
		opts.DefaultDurationHours = 24
	}
	return &Coordinator{
		opts:      opts,
		processor: processor,
		blobs:     blobs,
		stories:   stories,
		elements:  elements,
		audience:  audience,
		events:    events,
		validator: validator,
		feeds:     feeds,
		now:       time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// CreateStory validates, uploads and records a story for the current user.
// On failure after the upload nothing stays visible: completed steps are
// undone in reverse order before the error is returned.
func (c *Coordinator) CreateStory(ctx context.Context, in CreateOptions) (story *model.Story, err error) {
	userID, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, "upload.CreateStory", attribute.String("user.id", userID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	storyID := uuid.New().String()
	kind, hours, elements, err := c.validate(storyID, &in)
	if err != nil {
		return nil, err
	}
	file := in.File
	if kind == model.MediaImage {
		file = c.processor.CompressImage(ctx, file, c.opts.Compress)
	}

	probed := make(chan media.Info, 1)
	go func() {
		info, perr := c.processor.Probe(ctx, file)
		if perr != nil {
			logger.Warn("probe media failed", zap.String("story_id", storyID), zap.Error(perr))
		}
		probed <- info
	}()

	var s saga
	defer func() {
		if err != nil {
			s.rollback(ctx, storyID)
		}
	}()

	now := c.now().UTC()
	key := mediaKey(userID, now, file.Ext())
	obj, err := c.uploadWithRetry(ctx, key, file)
	if err != nil {
		return nil, err
	}
	s.push("remove media", func(ctx context.Context) error { return c.blobs.Remove(ctx, []string{obj.Key}) })

	story = &model.Story{
		ID:            storyID,
		AuthorID:      userID,
		MediaURL:      obj.URL,
		MediaKey:      obj.Key,
		MediaType:     kind,
		Caption:       in.Caption,
		Location:      in.Location,
		DurationHours: hours,
		CreatedAt:     now,
		ExpiresAt:     model.ExpiryFor(now, hours),
		IsActive:      true,
		Privacy:       in.Privacy,
	}
	size := file.Size()
	story.FileSizeBytes = &size

	if thumb := c.thumbnail(ctx, file, key); thumb != nil {
		story.ThumbnailURL = &thumb.URL
		story.ThumbnailKey = thumb.Key
		s.push("remove thumbnail", func(ctx context.Context) error { return c.blobs.Remove(ctx, []string{thumb.Key}) })
	}

	select {
	case info := <-probed:
		applyInfo(story, info)
	case <-ctx.Done():
		return nil, apperr.Consistency("create story", ctx.Err())
	}

	if err = c.insert(ctx, story); err != nil {
		return nil, apperr.Consistency("record story", err)
	}
	s.push("delete story", func(ctx context.Context) error { return c.stories.Delete(ctx, storyID) })

	if err = c.attach(ctx, &s, story, in, elements); err != nil {
		return nil, apperr.Consistency("attach story details", err)
	}
	story.Elements = elements

	if c.events != nil {
		if _, aerr := c.events.Append(ctx, storyID, userID, model.EventCreated); aerr != nil {
			logger.Warn("append story event failed", zap.String("story_id", storyID), zap.Error(aerr))
		}
	}
	if c.feeds != nil {
		c.feeds.Invalidate(ctx, userID)
	}
	logger.Info("story created",
		zap.String("story_id", storyID),
		zap.String("author_id", userID),
		zap.String("media_type", string(kind)),
		zap.Int64("bytes", size),
	)
	return story, nil
}

// validate runs every check that needs no side effects.
func (c *Coordinator) validate(storyID string, in *CreateOptions) (model.MediaType, int, []model.InteractiveElement, error) {
	if in.File == nil || len(in.File.Data) == 0 {
		return "", 0, nil, apperr.Validation("media file is required")
	}
	if in.File.Size() > c.opts.MaxUploadBytes {
		return "", 0, nil, apperr.Validation("file exceeds %d MB", c.opts.MaxUploadBytes>>20)
	}
	mt := mimetype.Detect(in.File.Data)
	contentType := ""
	for allowed := range media.AllowedTypes {
		if mt.Is(allowed) {
			contentType = allowed
			break
		}
	}
	if contentType == "" {
		return "", 0, nil, apperr.Validation("unsupported media type %s", mt.String())
	}
	in.File.ContentType = contentType
	kind := media.AllowedTypes[contentType]

	if in.Caption != nil {
		caption := strings.TrimSpace(*in.Caption)
		if utf8.RuneCountInString(caption) > model.MaxCaptionLength {
			return "", 0, nil, apperr.Validation("caption exceeds %d characters", model.MaxCaptionLength)
		}
		if caption == "" {
			in.Caption = nil
		} else {
			in.Caption = &caption
		}
	}

	if in.Privacy == "" {
		in.Privacy = model.PrivacyPublic
	}
	if !in.Privacy.Valid() {
		return "", 0, nil, apperr.Validation("unknown privacy %q", in.Privacy)
	}
	hours := in.DurationHours
	if hours == 0 {
		hours = c.opts.DefaultDurationHours
	}
	if hours < 1 || hours > MaxDurationHours {
		return "", 0, nil, apperr.Validation("duration must be between 1 and %d hours", MaxDurationHours)
	}
	var elements []model.InteractiveElement
	if len(in.Elements) > 0 {
		els, err := c.validator.ValidateAll(storyID, in.Elements)
		if err != nil {
			return "", 0, nil, err
		}
		elements = els
	}
	return kind, hours, elements, nil
}

// uploadWithRetry waits base*2^attempt between attempts.
func (c *Coordinator) uploadWithRetry(ctx context.Context, key string, f *media.File) (blob.Object, error) {
	ctx, span := tracing.Start(ctx, "upload.media", attribute.String("blob.key", key))
	defer span.End()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * c.opts.RetryBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(1<<c.opts.Attempts) * c.opts.RetryBaseDelay

	attempt := 0
	obj, err := backoff.Retry(ctx, func() (blob.Object, error) {
		attempt++
		return c.blobs.Upload(ctx, key, bytes.NewReader(f.Data), f.ContentType)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.Attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("media upload failed, retrying",
				zap.String("key", key), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	span.SetAttributes(attribute.Int("upload.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		return blob.Object{}, apperr.TransientIO(fmt.Sprintf("upload failed after %d attempts", attempt), err)
	}
	return obj, nil
}

// thumbnail is best effort; failures leave the story without one.
func (c *Coordinator) thumbnail(ctx context.Context, f *media.File, mediaKey string) *blob.Object {
	ctx, span := tracing.Start(ctx, "upload.thumbnail")
	defer span.End()

	thumb, err := c.processor.GenerateThumbnail(ctx, f, c.opts.Thumbnail)
	if err != nil {
		logger.Warn("thumbnail generation failed", zap.String("key", mediaKey), zap.Error(err))
		span.RecordError(err)
		return nil
	}
	obj, err := c.blobs.Upload(ctx, thumbKey(mediaKey), bytes.NewReader(thumb.Data), thumb.ContentType)
	if err != nil {
		logger.Warn("thumbnail upload failed", zap.String("key", mediaKey), zap.Error(err))
		span.RecordError(err)
		return nil
	}
	return &obj
}

func (c *Coordinator) insert(ctx context.Context, s *model.Story) error {
	ctx, span := tracing.Start(ctx, "upload.insert")
	defer span.End()
	return c.stories.Create(ctx, s)
}

func (c *Coordinator) attach(ctx context.Context, s *saga, story *model.Story, in CreateOptions, elements []model.InteractiveElement) error {
	ctx, span := tracing.Start(ctx, "upload.attach")
	defer span.End()

	if len(in.Allow) > 0 || len(in.Deny) > 0 {
		s.push("delete audience", func(ctx context.Context) error { return c.audience.DeleteAudience(ctx, story.ID) })
		if err := c.audience.ReplaceAudience(ctx, story.ID, in.Allow, in.Deny); err != nil {
			return err
		}
	}
	if len(in.Mentions) > 0 {
		s.push("delete mentions", func(ctx context.Context) error { return c.audience.DeleteMentions(ctx, story.ID) })
		if err := c.audience.CreateMentions(ctx, story.ID, dedupe(in.Mentions, story.AuthorID)); err != nil {
			return err
		}
	}
	if len(elements) > 0 {
		s.push("delete elements", func(ctx context.Context) error { return c.elements.DeleteByStory(ctx, story.ID) })
		if err := c.elements.CreateBatch(ctx, elements); err != nil {
			return err
		}
	}
	return nil
}

func applyInfo(s *model.Story, info media.Info) {
	if info.Width > 0 && info.Height > 0 {
		w, h := info.Width, info.Height
		s.Width, s.Height = &w, &h
	}
	if info.DurationSeconds > 0 {
		d := info.DurationSeconds
		s.DurationSeconds = &d
	}
}

func mediaKey(userID string, at time.Time, ext string) string {
	return fmt.Sprintf("stories/%s/%d-%s.%s", userID, at.UnixMilli(), uuid.New().String()[:8], ext)
}

func thumbKey(mediaKey string) string {
	return mediaKey + ".thumb.jpg"
}

func dedupe(ids []string, skip string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == skip || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type compensation struct {
	name string
	fn   func(context.Context) error
}

// saga collects compensations for completed steps.
type saga struct {
	steps []compensation
}

func (s *saga) push(name string, fn func(context.Context) error) {
	s.steps = append(s.steps, compensation{name: name, fn: fn})
}

// rollback runs compensations newest first. Failures are logged and
// reported, never returned.
func (s *saga) rollback(ctx context.Context, storyID string) {
	if len(s.steps) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	ctx, span := tracing.Start(ctx, "upload.rollback", attribute.Int("steps", len(s.steps)))
	defer span.End()

	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.fn(ctx); err != nil {
			logger.Error("rollback step failed",
				zap.String("story_id", storyID), zap.String("step", step.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		sentry.CaptureException(fmt.Errorf("rollback story %s: %w", storyID, err))
	}
	s.steps = nil
}
