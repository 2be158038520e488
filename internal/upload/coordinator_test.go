package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/blob"
	"github.com/d60-Lab/storyline/internal/interactive"
	"github.com/d60-Lab/storyline/internal/media"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/repository"
	"github.com/d60-Lab/storyline/internal/testutil"
	"github.com/d60-Lab/storyline/pkg/logger"
)

// flakyStore 包装内存存储，可注入上传/删除失败
type flakyStore struct {
	*blob.LocalStore

	mu          sync.Mutex
	failFirst   int
	failIf      func(key string) bool
	removeErr   error
	uploadCalls int
	removed     []string
}

func (s *flakyStore) Upload(ctx context.Context, key string, r io.Reader, ct string) (blob.Object, error) {
	s.mu.Lock()
	s.uploadCalls++
	fail := s.uploadCalls <= s.failFirst || (s.failIf != nil && s.failIf(key))
	s.mu.Unlock()
	if fail {
		return blob.Object{}, errors.New("connection reset")
	}
	return s.LocalStore.Upload(ctx, key, r, ct)
}

func (s *flakyStore) Remove(ctx context.Context, keys []string) error {
	s.mu.Lock()
	s.removed = append(s.removed, keys...)
	s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	return s.LocalStore.Remove(ctx, keys)
}

type failingStories struct {
	repository.StoryRepository
	createErr error
}

func (f failingStories) Create(ctx context.Context, s *model.Story) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.StoryRepository.Create(ctx, s)
}

type failingElements struct {
	repository.ElementRepository
}

func (failingElements) CreateBatch(context.Context, []model.InteractiveElement) error {
	return errors.New("insert elements: disk full")
}

type fixture struct {
	db       *gorm.DB
	store    *flakyStore
	coord    *Coordinator
	stories  repository.StoryRepository
	elements repository.ElementRepository
	now      time.Time
}

func newFixture(t *testing.T, tweak func(f *fixture)) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &fixture{
		db:       db,
		store:    &flakyStore{LocalStore: blob.NewMemoryStore("http://cdn.test/media")},
		stories:  repository.NewStoryRepository(db),
		elements: repository.NewElementRepository(db),
		now:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if tweak != nil {
		tweak(f)
	}
	opts := Options{MaxUploadBytes: 1 << 20, Attempts: 3, RetryBaseDelay: time.Millisecond, DefaultDurationHours: 24}
	f.coord = NewCoordinator(
		opts,
		media.NewProcessor(nil),
		f.store,
		f.stories,
		f.elements,
		repository.NewAudienceRepository(db),
		repository.NewEventRepository(db),
		interactive.NewValidator(),
		nil,
	).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) storyCount(t *testing.T) int64 {
	var n int64
	require.NoError(t, f.db.Model(&model.Story{}).Count(&n).Error)
	return n
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func userCtx() context.Context { return auth.WithUserID(context.Background(), "alice") }

func pollInput(t *testing.T) interactive.ElementInput {
	data, err := json.Marshal(interactive.PollData{Question: "Beach?", Options: []string{"Yes", "No"}})
	require.NoError(t, err)
	return interactive.ElementInput{Type: model.ElementPoll, Data: data, PosX: 50, PosY: 80}
}

func TestCreateStory_Success(t *testing.T) {
	f := newFixture(t, nil)
	caption := "sunset"

	s, err := f.coord.CreateStory(userCtx(), CreateOptions{
		File:          &media.File{Name: "sunset.png", Data: pngBytes(t, 120, 80)},
		Caption:       &caption,
		DurationHours: 6,
		Allow:         []string{"bob"},
		Mentions:      []string{"carol", "carol", "alice"},
		Elements:      []interactive.ElementInput{pollInput(t)},
	})
	require.NoError(t, err)

	assert.Equal(t, "alice", s.AuthorID)
	assert.Equal(t, model.MediaImage, s.MediaType)
	assert.Equal(t, model.PrivacyPublic, s.Privacy)
	assert.Equal(t, f.now.Add(6*time.Hour), s.ExpiresAt)
	assert.True(t, strings.HasPrefix(s.MediaURL, "http://cdn.test/media/stories/alice/"))
	require.NotNil(t, s.ThumbnailURL)
	require.NotNil(t, s.Width)
	assert.Equal(t, 120, *s.Width)
	assert.Equal(t, 80, *s.Height)
	assert.True(t, f.store.Exists(s.MediaKey))
	assert.True(t, f.store.Exists(s.ThumbnailKey))

	stored, err := f.stories.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, stored.ExpiresAt.Equal(stored.CreatedAt.Add(6*time.Hour)))
	require.Len(t, stored.Elements, 1)

	var mentions []model.StoryMention
	require.NoError(t, f.db.Where("story_id = ?", s.ID).Find(&mentions).Error)
	require.Len(t, mentions, 1)
	assert.Equal(t, "carol", mentions[0].UserID)

	var events int64
	require.NoError(t, f.db.Model(&model.StoryEvent{}).Where("story_id = ? AND kind = ?", s.ID, model.EventCreated).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestCreateStory_RetriesTransientUploadFailures(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.store.failFirst = 2 })

	s, err := f.coord.CreateStory(userCtx(), CreateOptions{File: &media.File{Data: pngBytes(t, 10, 10)}})
	require.NoError(t, err)
	assert.True(t, f.store.Exists(s.MediaKey))
	// 2 次失败 + 1 次成功 + 缩略图
	assert.Equal(t, 4, f.store.uploadCalls)
}

func TestCreateStory_UploadExhaustedLeavesNothing(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.store.failFirst = 100 })

	_, err := f.coord.CreateStory(userCtx(), CreateOptions{File: &media.File{Data: pngBytes(t, 10, 10)}})
	require.ErrorIs(t, err, apperr.ErrTransientIO)
	assert.Equal(t, 3, f.store.uploadCalls)
	assert.Equal(t, int64(0), f.storyCount(t))
	assert.Empty(t, f.store.removed)
}

func TestCreateStory_ThumbnailFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.store.failIf = func(key string) bool { return strings.HasSuffix(key, ".thumb.jpg") }
	})

	s, err := f.coord.CreateStory(userCtx(), CreateOptions{File: &media.File{Data: pngBytes(t, 10, 10)}})
	require.NoError(t, err)
	assert.Nil(t, s.ThumbnailURL)

	stored, err := f.stories.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ThumbnailURL)
	assert.Empty(t, f.store.removed)
}

func TestCreateStory_InsertFailureRemovesBlob(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.stories = failingStories{StoryRepository: f.stories, createErr: errors.New("db down")}
	})

	_, err := f.coord.CreateStory(userCtx(), CreateOptions{File: &media.File{Data: pngBytes(t, 10, 10)}})
	require.ErrorIs(t, err, apperr.ErrConsistency)
	assert.Equal(t, int64(0), f.storyCount(t))
	require.Len(t, f.store.removed, 2)
	for _, k := range f.store.removed {
		assert.False(t, f.store.Exists(k))
	}
}

func TestCreateStory_AttachFailureRollsBackInReverse(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.elements = failingElements{ElementRepository: f.elements}
	})

	_, err := f.coord.CreateStory(userCtx(), CreateOptions{
		File:     &media.File{Data: pngBytes(t, 10, 10)},
		Deny:     []string{"mallory"},
		Elements: []interactive.ElementInput{pollInput(t)},
	})
	require.ErrorIs(t, err, apperr.ErrConsistency)
	assert.Equal(t, int64(0), f.storyCount(t))

	var audience int64
	require.NoError(t, f.db.Model(&model.StoryAudience{}).Count(&audience).Error)
	assert.Equal(t, int64(0), audience)
	assert.Len(t, f.store.removed, 2)
}

func TestCreateStory_RollbackErrorsAreLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := logger.L()
	logger.Set(zap.New(core))
	defer logger.Set(prev)

	f := newFixture(t, func(f *fixture) {
		f.stories = failingStories{StoryRepository: f.stories, createErr: errors.New("db down")}
		f.store.removeErr = errors.New("blob store offline")
	})

	_, err := f.coord.CreateStory(userCtx(), CreateOptions{File: &media.File{Data: pngBytes(t, 10, 10)}})
	require.ErrorIs(t, err, apperr.ErrConsistency)
	assert.NotContains(t, err.Error(), "blob store offline")
	assert.Equal(t, 2, logs.FilterMessage("rollback step failed").Len())
}

func TestCreateStory_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := userCtx()
	longCaption := strings.Repeat("é", model.MaxCaptionLength+1)

	cases := []struct {
		name string
		in   CreateOptions
	}{
		{"no file", CreateOptions{}},
		{"too large", CreateOptions{File: &media.File{Data: append(pngBytes(t, 4, 4), make([]byte, 2<<20)...)}}},
		{"not media", CreateOptions{File: &media.File{Name: "notes.txt", Data: []byte("hello world")}}},
		{"bad privacy", CreateOptions{File: &media.File{Data: pngBytes(t, 4, 4)}, Privacy: "secret"}},
		{"bad duration", CreateOptions{File: &media.File{Data: pngBytes(t, 4, 4)}, DurationHours: 100}},
		{"caption too long", CreateOptions{File: &media.File{Data: pngBytes(t, 4, 4)}, Caption: &longCaption}},
		{"bad element", CreateOptions{File: &media.File{Data: pngBytes(t, 4, 4)}, Elements: []interactive.ElementInput{{Type: model.ElementPoll, Data: json.RawMessage(`{"question":"q","options":["one"]}`)}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.coord.CreateStory(ctx, tc.in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Equal(t, 0, f.store.uploadCalls)
	assert.Equal(t, int64(0), f.storyCount(t))
}

func TestCreateStory_TrimsCaption(t *testing.T) {
	f := newFixture(t, nil)

	padded := "  golden hour \n"
	s, err := f.coord.CreateStory(userCtx(), CreateOptions{File: &media.File{Data: pngBytes(t, 4, 4)}, Caption: &padded})
	require.NoError(t, err)
	require.NotNil(t, s.Caption)
	assert.Equal(t, "golden hour", *s.Caption)

	blank := "   "
	s, err = f.coord.CreateStory(userCtx(), CreateOptions{File: &media.File{Data: pngBytes(t, 4, 4)}, Caption: &blank})
	require.NoError(t, err)
	assert.Nil(t, s.Caption)

	full := strings.Repeat("é", model.MaxCaptionLength)
	_, err = f.coord.CreateStory(userCtx(), CreateOptions{File: &media.File{Data: pngBytes(t, 4, 4)}, Caption: &full})
	require.NoError(t, err, "the limit counts characters, not bytes")
}

func TestCreateStory_RequiresUser(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.coord.CreateStory(context.Background(), CreateOptions{File: &media.File{Data: pngBytes(t, 4, 4)}})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestMediaKey(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	k := mediaKey("alice", at, "jpg")
	assert.True(t, strings.HasPrefix(k, "stories/alice/1700000000123-"))
	assert.True(t, strings.HasSuffix(k, ".jpg"))
	assert.Equal(t, k+".thumb.jpg", thumbKey(k))
}
