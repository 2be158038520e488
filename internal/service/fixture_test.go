package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/cache"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/testutil"
)

type fixture struct {
	db    *gorm.DB
	repos Repos
	authz *Authorizer
	feeds *cache.MemoryFeedCache
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	repos := NewRepos(db)
	return &fixture{
		db:    db,
		repos: repos,
		authz: NewAuthorizer(repos.Follows, repos.Audience, repos.Stories),
		feeds: cache.NewMemoryFeedCache(cache.NewStore[[]model.StoryGroup](time.Minute)),
		now:   time.Now().UTC().Truncate(time.Second),
	}
}

func (f *fixture) clock() Option { return WithClock(func() time.Time { return f.now }) }

func (f *fixture) stories() StoryService {
	return NewStoryService(f.repos, f.authz, NewPublisher(f.db), f.feeds, f.clock())
}

func as(user string) context.Context { return auth.WithUserID(context.Background(), user) }

// seed 写入一条快拍，age 为距 now 的创建时长
func (f *fixture) seed(t *testing.T, author string, privacy model.Privacy, age time.Duration, hours int) *model.Story {
	t.Helper()
	created := f.now.Add(-age)
	s := &model.Story{
		ID:            uuid.New().String(),
		AuthorID:      author,
		MediaURL:      "https://cdn.test/" + author + ".jpg",
		MediaType:     model.MediaImage,
		DurationHours: hours,
		CreatedAt:     created,
		ExpiresAt:     model.ExpiryFor(created, hours),
		IsActive:      true,
		Privacy:       privacy,
	}
	require.NoError(t, f.repos.Stories.Create(context.Background(), s))
	return s
}

func (f *fixture) follow(t *testing.T, follower, followee string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repos.Follows.Create(ctx, follower, followee))
	require.NoError(t, f.repos.Fans.Create(ctx, followee, follower))
}

func (f *fixture) reload(t *testing.T, id string) *model.Story {
	t.Helper()
	s, err := f.repos.Stories.GetByID(context.Background(), id)
	require.NoError(t, err)
	return s
}
