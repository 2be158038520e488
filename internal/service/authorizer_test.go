package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/repository"
)

func TestAuthorizer_CanView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.follow(t, "bob", "alice")
	require.NoError(t, f.repos.Audience.AddCloseFriend(ctx, "alice", "carol"))

	public := f.seed(t, "alice", model.PrivacyPublic, 0, 24)
	followers := f.seed(t, "alice", model.PrivacyFollowers, 0, 24)
	closeOnly := f.seed(t, "alice", model.PrivacyCloseFriends, 0, 24)
	custom := f.seed(t, "alice", model.PrivacyCustom, 0, 24)
	require.NoError(t, f.repos.Audience.ReplaceAudience(ctx, custom.ID, []string{"dave"}, nil))
	require.NoError(t, f.repos.Audience.ReplaceAudience(ctx, public.ID, nil, []string{"erin"}))

	tests := []struct {
		name   string
		story  *model.Story
		viewer string
		want   bool
	}{
		{"author always", custom, "alice", true},
		{"public stranger", public, "zed", true},
		{"public denied", public, "erin", false},
		{"followers follower", followers, "bob", true},
		{"followers stranger", followers, "zed", false},
		{"close friend", closeOnly, "carol", true},
		{"close friends follower", closeOnly, "bob", false},
		{"custom allowed", custom, "dave", true},
		{"custom follower", custom, "bob", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.authz.CanView(ctx, tt.story, tt.viewer))
		})
	}

	assert.True(t, f.authz.CanViewStory(ctx, followers.ID, "bob"))
	assert.False(t, f.authz.CanViewStory(ctx, "missing", "bob"))
}

type brokenAudience struct{ repository.AudienceRepository }

func (brokenAudience) ListAudience(context.Context, string) ([]*model.StoryAudience, error) {
	return nil, errors.New("connection refused")
}

func TestAuthorizer_FailsOpen(t *testing.T) {
	f := newFixture(t)
	s := f.seed(t, "alice", model.PrivacyCustom, 0, 24)
	authz := NewAuthorizer(f.repos.Follows, brokenAudience{f.repos.Audience}, f.repos.Stories)
	assert.True(t, authz.CanView(context.Background(), s, "stranger"))
}
