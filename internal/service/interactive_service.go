package service

import (
	"context"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/interactive"
	"github.com/d60-Lab/storyline/internal/model"
)

// InteractiveService 投票 / 提问贴纸的作答与统计
type InteractiveService interface {
	// Respond 每个 (element, user) 一条，再次作答覆盖
	Respond(ctx context.Context, elementID string, in interactive.ResponseInput) error
	PollResults(ctx context.Context, elementID string) (interactive.PollResult, error)
	ListResponses(ctx context.Context, elementID string, page, pageSize int) ([]*model.InteractiveResponse, error)
}

type interactiveService struct {
	repos Repos
	authz *Authorizer
	now   clock
}

func NewInteractiveService(repos Repos, authz *Authorizer, opts ...Option) InteractiveService {
	st := apply(opts)
	return &interactiveService{repos: repos, authz: authz, now: st.now}
}

func (s *interactiveService) Respond(ctx context.Context, elementID string, in interactive.ResponseInput) error {
	user, err := auth.Require(ctx)
	if err != nil {
		return err
	}
	el, story, err := s.load(ctx, elementID)
	if err != nil {
		return err
	}
	if !story.IsLive(s.now()) {
		return apperr.NotFound("story")
	}
	if !s.authz.CanView(ctx, story, user) {
		return apperr.Forbidden("story is not visible to you")
	}
	in, err = interactive.CheckResponse(el, in)
	if err != nil {
		return err
	}
	return s.repos.Responses.Upsert(ctx, &model.InteractiveResponse{
		ElementID:   elementID,
		UserID:      user,
		OptionIndex: in.OptionIndex,
		Text:        in.Text,
		CreatedAt:   s.now(),
	})
}

func (s *interactiveService) PollResults(ctx context.Context, elementID string) (interactive.PollResult, error) {
	user, err := auth.Require(ctx)
	if err != nil {
		return interactive.PollResult{}, err
	}
	el, story, err := s.load(ctx, elementID)
	if err != nil {
		return interactive.PollResult{}, err
	}
	if !s.authz.CanView(ctx, story, user) {
		return interactive.PollResult{}, apperr.Forbidden("story is not visible to you")
	}
	options, err := interactive.PollOptions(el)
	if err != nil {
		return interactive.PollResult{}, err
	}
	counts, err := s.repos.Responses.CountOptions(ctx, elementID)
	if err != nil {
		return interactive.PollResult{}, err
	}
	return interactive.Tally(options, counts), nil
}

// ListResponses 仅作者可看明细
func (s *interactiveService) ListResponses(ctx context.Context, elementID string, p, size int) ([]*model.InteractiveResponse, error) {
	user, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	_, story, err := s.load(ctx, elementID)
	if err != nil {
		return nil, err
	}
	if story.AuthorID != user {
		return nil, apperr.Forbidden("only the author can do this")
	}
	offset, limit := page(p, size)
	return s.repos.Responses.ListByElement(ctx, elementID, offset, limit)
}

func (s *interactiveService) load(ctx context.Context, elementID string) (*model.InteractiveElement, *model.Story, error) {
	el, err := s.repos.Elements.GetByID(ctx, elementID)
	if err != nil {
		return nil, nil, notFound(err, "element")
	}
	story, err := s.repos.Stories.GetByID(ctx, el.StoryID)
	if err != nil {
		return nil, nil, notFound(err, "story")
	}
	if !story.IsActive {
		return nil, nil, apperr.NotFound("story")
	}
	return el, story, nil
}
