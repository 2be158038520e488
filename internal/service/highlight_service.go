package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/model"
)

const MaxHighlightTitle = 64

// HighlightService 精选集：条目引用归档快照，不随快拍过期
type HighlightService interface {
	Create(ctx context.Context, title string, coverURL *string) (*model.Highlight, error)
	Get(ctx context.Context, highlightID string) (*model.Highlight, error)
	List(ctx context.Context, authorID string) ([]*model.Highlight, error)
	Rename(ctx context.Context, highlightID, title string, coverURL *string) error
	Delete(ctx context.Context, highlightID string) error
	// AddStory 先把快拍归档再加入，已归档时复用快照
	AddStory(ctx context.Context, highlightID, storyID string) error
	AddArchive(ctx context.Context, highlightID, archiveID string) error
	RemoveItem(ctx context.Context, highlightID, archiveID string) error
	Reorder(ctx context.Context, highlightID string, archiveIDs []string) error
}

type highlightService struct {
	repos Repos
	now   clock
}

func NewHighlightService(repos Repos, opts ...Option) HighlightService {
	st := apply(opts)
	return &highlightService{repos: repos, now: st.now}
}

func (s *highlightService) Create(ctx context.Context, title string, coverURL *string) (*model.Highlight, error) {
	user, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	title, err = checkTitle(title)
	if err != nil {
		return nil, err
	}
	now := s.now()
	h := &model.Highlight{AuthorID: user, Title: title, CoverURL: coverURL, CreatedAt: now, UpdatedAt: now}
	if err := s.repos.Highlights.Create(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *highlightService) Get(ctx context.Context, highlightID string) (*model.Highlight, error) {
	if _, err := auth.Require(ctx); err != nil {
		return nil, err
	}
	h, err := s.repos.Highlights.GetByID(ctx, highlightID)
	if err != nil {
		return nil, notFound(err, "highlight")
	}
	return h, nil
}

func (s *highlightService) List(ctx context.Context, authorID string) ([]*model.Highlight, error) {
	if _, err := auth.Require(ctx); err != nil {
		return nil, err
	}
	return s.repos.Highlights.ListByAuthor(ctx, authorID)
}

func (s *highlightService) Rename(ctx context.Context, highlightID, title string, coverURL *string) error {
	if _, err := s.owned(ctx, highlightID); err != nil {
		return err
	}
	title, err := checkTitle(title)
	if err != nil {
		return err
	}
	fields := map[string]any{"title": title, "updated_at": s.now()}
	if coverURL != nil {
		fields["cover_url"] = *coverURL
	}
	return s.repos.Highlights.UpdateFields(ctx, highlightID, fields)
}

func (s *highlightService) Delete(ctx context.Context, highlightID string) error {
	if _, err := s.owned(ctx, highlightID); err != nil {
		return err
	}
	return s.repos.Highlights.Delete(ctx, highlightID)
}

func (s *highlightService) AddStory(ctx context.Context, highlightID, storyID string) error {
	h, err := s.owned(ctx, highlightID)
	if err != nil {
		return err
	}
	story, err := s.repos.Stories.GetByID(ctx, storyID)
	if err != nil {
		return notFound(err, "story")
	}
	if story.AuthorID != h.AuthorID {
		return apperr.Forbidden("only your own stories can be highlighted")
	}
	archive, err := s.repos.Archives.Ensure(ctx, model.SnapshotOf(story, model.ArchiveHighlight, s.now()))
	if err != nil {
		return err
	}
	return s.repos.Highlights.AddItem(ctx, highlightID, archive.ID)
}

func (s *highlightService) AddArchive(ctx context.Context, highlightID, archiveID string) error {
	h, err := s.owned(ctx, highlightID)
	if err != nil {
		return err
	}
	a, err := s.repos.Archives.GetByID(ctx, archiveID)
	if err != nil {
		return notFound(err, "archive")
	}
	if a.AuthorID != h.AuthorID {
		return apperr.Forbidden("only your own stories can be highlighted")
	}
	return s.repos.Highlights.AddItem(ctx, highlightID, archiveID)
}

func (s *highlightService) RemoveItem(ctx context.Context, highlightID, archiveID string) error {
	if _, err := s.owned(ctx, highlightID); err != nil {
		return err
	}
	return s.repos.Highlights.RemoveItem(ctx, highlightID, archiveID)
}

func (s *highlightService) Reorder(ctx context.Context, highlightID string, archiveIDs []string) error {
	h, err := s.owned(ctx, highlightID)
	if err != nil {
		return err
	}
	// 必须是现有条目的一个排列
	if len(archiveIDs) != len(h.Items) {
		return apperr.Validation("reorder must list every item exactly once")
	}
	have := make(map[string]bool, len(h.Items))
	for _, it := range h.Items {
		have[it.ArchiveID] = true
	}
	for _, id := range archiveIDs {
		if !have[id] {
			return apperr.Validation("reorder must list every item exactly once")
		}
		delete(have, id)
	}
	return s.repos.Highlights.Reorder(ctx, highlightID, archiveIDs)
}

func (s *highlightService) owned(ctx context.Context, highlightID string) (*model.Highlight, error) {
	user, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	h, err := s.repos.Highlights.GetByID(ctx, highlightID)
	if err != nil {
		return nil, notFound(err, "highlight")
	}
	if h.AuthorID != user {
		return nil, apperr.Forbidden("only the owner can change a highlight")
	}
	return h, nil
}

func checkTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > MaxHighlightTitle {
		return "", apperr.Validation("title must be 1-%d characters", MaxHighlightTitle)
	}
	return title, nil
}
