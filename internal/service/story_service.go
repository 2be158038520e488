package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/cache"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/repository"
	"github.com/d60-Lab/storyline/pkg/logger"
)

const (
	MaxReplyLength   = 500
	MaxEmojiLength   = 32
	MaxCaptionLength = model.MaxCaptionLength
)

// UpdateInput 仅作者可改；Allow/Deny 任一非 nil 时整体替换名单
type UpdateInput struct {
	Caption *string
	Privacy *model.Privacy
	Allow   []string
	Deny    []string
}

// StoryService 快拍读写、观看、反应、回复
type StoryService interface {
	Get(ctx context.Context, storyID string) (*model.Story, error)
	Update(ctx context.Context, storyID string, in UpdateInput) (*model.Story, error)
	Delete(ctx context.Context, storyID string) error
	ListUserStories(ctx context.Context, authorID string) ([]*model.Story, error)

	// ViewStory 幂等：同一观众只记一次，仅首次插入时 view_count+1
	ViewStory(ctx context.Context, storyID string, duration time.Duration, completed bool) (recorded bool, err error)
	RecordView(ctx context.Context, storyID string, duration time.Duration, completed bool) error
	ListViewers(ctx context.Context, storyID string, page, pageSize int) ([]*model.StoryView, error)

	React(ctx context.Context, storyID, emoji string) error
	Unreact(ctx context.Context, storyID string) error
	Reply(ctx context.Context, storyID, text string) (*model.StoryReply, error)
	ListReplies(ctx context.Context, storyID string, page, pageSize int) ([]*model.StoryReply, error)
}

type storyService struct {
	repos     Repos
	authz     *Authorizer
	publisher *Publisher
	feeds     cache.FeedCache
	now       clock
}

func NewStoryService(repos Repos, authz *Authorizer, publisher *Publisher, feeds cache.FeedCache, opts ...Option) StoryService {
	st := apply(opts)
	return &storyService{repos: repos, authz: authz, publisher: publisher, feeds: feeds, now: st.now}
}

func (s *storyService) Get(ctx context.Context, storyID string) (*model.Story, error) {
	viewer, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	return s.loadLive(ctx, storyID, viewer)
}

func (s *storyService) Update(ctx context.Context, storyID string, in UpdateInput) (*model.Story, error) {
	story, err := s.loadOwned(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if !story.IsLive(s.now()) {
		return nil, apperr.Validation("story is no longer live")
	}

	fields := map[string]any{}
	if in.Caption != nil {
		caption := strings.TrimSpace(*in.Caption)
		if utf8.RuneCountInString(caption) > MaxCaptionLength {
			return nil, apperr.Validation("caption exceeds %d characters", MaxCaptionLength)
		}
		if caption == "" {
			fields["caption"] = nil
		} else {
			fields["caption"] = caption
		}
	}
	if in.Privacy != nil {
		if !in.Privacy.Valid() {
			return nil, apperr.Validation("invalid privacy %q", *in.Privacy)
		}
		fields["privacy"] = *in.Privacy
	}
	var audience *AudienceChange
	if in.Allow != nil || in.Deny != nil {
		audience = &AudienceChange{Allow: in.Allow, Deny: in.Deny}
	}
	if len(fields) == 0 && audience == nil {
		return nil, apperr.Validation("nothing to update")
	}

	if _, err := s.publisher.PublishUpdate(ctx, story, fields, audience); err != nil {
		return nil, err
	}
	s.invalidate(ctx, story.AuthorID)
	updated, err := s.repos.Stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, notFound(err, "story")
	}
	return updated, nil
}

// Delete 软删除：置 is_active=false、写归档快照和 deleted 事件（同一事务）
func (s *storyService) Delete(ctx context.Context, storyID string) error {
	story, err := s.loadOwned(ctx, storyID)
	if err != nil {
		return err
	}
	if !story.IsActive {
		return apperr.NotFound("story")
	}
	now := s.now()
	snapshot := model.SnapshotOf(story, model.ArchiveDeleted, now)
	event := repository.NewStoryEvent(story.ID, story.AuthorID, model.EventDeleted)
	if err := s.repos.Stories.SoftDelete(ctx, storyID, snapshot, event); err != nil {
		return notFound(err, "story")
	}
	s.invalidate(ctx, story.AuthorID)
	logger.Info("story deleted", zap.String("story_id", storyID), zap.String("author_id", story.AuthorID))
	return nil
}

func (s *storyService) ListUserStories(ctx context.Context, authorID string) ([]*model.Story, error) {
	viewer, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.repos.Stories.ListLiveByAuthors(ctx, []string{authorID}, s.now())
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, st := range list {
		if s.authz.CanView(ctx, st, viewer) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *storyService) ViewStory(ctx context.Context, storyID string, duration time.Duration, completed bool) (bool, error) {
	viewer, err := auth.Require(ctx)
	if err != nil {
		return false, err
	}
	story, err := s.repos.Stories.GetByID(ctx, storyID)
	if err != nil {
		return false, notFound(err, "story")
	}
	if !story.IsActive {
		return false, apperr.NotFound("story")
	}
	// 作者不计入自己的观看
	if story.AuthorID == viewer {
		return false, nil
	}
	if !s.authz.CanView(ctx, story, viewer) {
		return false, apperr.Forbidden("story is not visible to you")
	}

	inserted, err := s.repos.Views.InsertIfAbsent(ctx, &model.StoryView{
		StoryID:    storyID,
		ViewerID:   viewer,
		DurationMs: duration.Milliseconds(),
		Completed:  completed,
		ViewedAt:   s.now(),
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}
	if err := s.repos.Stories.IncrementViews(ctx, storyID); err != nil {
		return true, err
	}
	s.invalidate(ctx, viewer)
	return true, nil
}

func (s *storyService) RecordView(ctx context.Context, storyID string, duration time.Duration, completed bool) error {
	_, err := s.ViewStory(ctx, storyID, duration, completed)
	return err
}

func (s *storyService) ListViewers(ctx context.Context, storyID string, p, size int) ([]*model.StoryView, error) {
	if _, err := s.loadOwned(ctx, storyID); err != nil {
		return nil, err
	}
	offset, limit := page(p, size)
	return s.repos.Views.ListByStory(ctx, storyID, offset, limit)
}

func (s *storyService) React(ctx context.Context, storyID, emoji string) error {
	viewer, err := auth.Require(ctx)
	if err != nil {
		return err
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > MaxEmojiLength {
		return apperr.Validation("emoji must be 1-%d characters", MaxEmojiLength)
	}
	if _, err := s.loadLive(ctx, storyID, viewer); err != nil {
		return err
	}
	created, err := s.repos.Reactions.Upsert(ctx, storyID, viewer, emoji)
	if err != nil {
		return err
	}
	if created {
		return s.repos.Stories.IncrementReactions(ctx, storyID)
	}
	return nil
}

func (s *storyService) Unreact(ctx context.Context, storyID string) error {
	viewer, err := auth.Require(ctx)
	if err != nil {
		return err
	}
	deleted, err := s.repos.Reactions.Delete(ctx, storyID, viewer)
	if err != nil {
		return err
	}
	if deleted {
		return s.repos.Stories.DecrementReactions(ctx, storyID)
	}
	return nil
}

func (s *storyService) Reply(ctx context.Context, storyID, text string) (*model.StoryReply, error) {
	viewer, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("reply is required")
	}
	if utf8.RuneCountInString(text) > MaxReplyLength {
		return nil, apperr.Validation("reply exceeds %d characters", MaxReplyLength)
	}
	if _, err := s.loadLive(ctx, storyID, viewer); err != nil {
		return nil, err
	}
	reply := &model.StoryReply{StoryID: storyID, UserID: viewer, Text: text, CreatedAt: s.now()}
	if err := s.repos.Replies.Create(ctx, reply); err != nil {
		return nil, err
	}
	if err := s.repos.Stories.IncrementReplies(ctx, storyID); err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *storyService) ListReplies(ctx context.Context, storyID string, p, size int) ([]*model.StoryReply, error) {
	if _, err := s.loadOwned(ctx, storyID); err != nil {
		return nil, err
	}
	offset, limit := page(p, size)
	return s.repos.Replies.ListByStory(ctx, storyID, offset, limit)
}

// loadLive 返回在线且对 viewer 可见的快拍
func (s *storyService) loadLive(ctx context.Context, storyID, viewer string) (*model.Story, error) {
	story, err := s.repos.Stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, notFound(err, "story")
	}
	if !story.IsLive(s.now()) {
		return nil, apperr.NotFound("story")
	}
	if !s.authz.CanView(ctx, story, viewer) {
		return nil, apperr.Forbidden("story is not visible to you")
	}
	return story, nil
}

// loadOwned 返回当前用户本人的快拍
func (s *storyService) loadOwned(ctx context.Context, storyID string) (*model.Story, error) {
	user, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	story, err := s.repos.Stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, notFound(err, "story")
	}
	if story.AuthorID != user {
		return nil, apperr.Forbidden("only the author can do this")
	}
	return story, nil
}

func (s *storyService) invalidate(ctx context.Context, viewerIDs ...string) {
	if s.feeds != nil {
		s.feeds.Invalidate(ctx, viewerIDs...)
	}
}
