package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/model"
)

func TestRelationshipService_FollowSync(t *testing.T) {
	f := newFixture(t)
	svc := NewRelationshipService(f.repos.Follows, f.repos.Fans, f.repos.Audience, nil, f.feeds)

	assert.ErrorIs(t, svc.Follow(as("bob"), "bob"), apperr.ErrValidation)
	assert.ErrorIs(t, svc.Follow(context.Background(), "alice"), apperr.ErrUnauthorized)

	require.NoError(t, svc.Follow(as("bob"), "alice"))
	require.NoError(t, svc.Follow(as("carol"), "alice"))

	following, err := svc.ListFollowing(as("bob"), "bob", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, following)
	fans, err := svc.ListFans(as("bob"), "alice", 1, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, fans)

	require.NoError(t, svc.Unfollow(as("bob"), "alice"))
	fans, err = svc.ListFans(as("bob"), "alice", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, fans)
}

func TestRelationshipService_FollowUnlocksFeed(t *testing.T) {
	f := newFixture(t)
	svc := NewRelationshipService(f.repos.Follows, f.repos.Fans, f.repos.Audience, nil, f.feeds)
	feed := NewFeedService(f.repos, f.authz, f.feeds, f.clock())
	f.seed(t, "alice", model.PrivacyFollowers, time.Minute, 24)

	groups, err := feed.ListFeed(as("bob"))
	require.NoError(t, err)
	assert.Empty(t, groups)

	require.NoError(t, svc.Follow(as("bob"), "alice"))
	groups, err = feed.ListFeed(as("bob"))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "alice", groups[0].AuthorID)
}

func TestRelationshipService_ReplicatesAsync(t *testing.T) {
	f := newFixture(t)
	rep := NewFanReplicator(f.repos.Fans, 16)
	stop := rep.Start(2)
	svc := NewRelationshipService(f.repos.Follows, f.repos.Fans, f.repos.Audience, rep, nil)

	require.NoError(t, svc.Follow(as("bob"), "alice"))
	require.NoError(t, svc.Follow(as("carol"), "alice"))
	require.NoError(t, svc.Unfollow(as("carol"), "alice"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, stop(ctx))

	assert.Zero(t, rep.QueueLen())
	fans, err := f.repos.Fans.ListFans(context.Background(), "alice", 0, 10)
	require.NoError(t, err)
	ids := make([]string, len(fans))
	for i, fan := range fans {
		ids[i] = fan.FanID
	}
	assert.Contains(t, ids, "bob")
	assert.NotContains(t, ids, "carol")
	assert.Equal(t, ReplicatorCounters{Applied: 3}, rep.Counters())
}

func TestFanReplicator_KeepsPairOrder(t *testing.T) {
	f := newFixture(t)
	rep := NewFanReplicator(f.repos.Fans, 256)
	stop := rep.Start(4)

	for i := 0; i < 20; i++ {
		rep.EnqueueAdd("alice", "bob")
		rep.EnqueueRemove("alice", "bob")
	}
	rep.EnqueueAdd("alice", "carol")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, stop(ctx))
	require.NoError(t, stop(ctx))

	fans, err := f.repos.Fans.ListFans(context.Background(), "alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, fans, 1)
	assert.Equal(t, "carol", fans[0].FanID)
	assert.Zero(t, rep.QueueLen())
}

func TestFanReplicator_DropsWhenFull(t *testing.T) {
	f := newFixture(t)
	rep := NewFanReplicator(f.repos.Fans, 1)

	rep.EnqueueAdd("alice", "bob")
	rep.EnqueueAdd("alice", "carol")
	assert.Equal(t, int64(1), rep.Counters().Dropped)
	assert.Equal(t, 1, rep.QueueLen())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rep.Start(1)(ctx))
	assert.Equal(t, int64(1), rep.Counters().Applied)
}

func TestRelationshipService_CloseFriends(t *testing.T) {
	f := newFixture(t)
	svc := NewRelationshipService(f.repos.Follows, f.repos.Fans, f.repos.Audience, nil, f.feeds)
	s := f.seed(t, "alice", model.PrivacyCloseFriends, time.Minute, 24)
	ctx := context.Background()

	assert.ErrorIs(t, svc.AddCloseFriend(as("alice"), "alice"), apperr.ErrValidation)
	assert.False(t, f.authz.CanView(ctx, s, "bob"))

	require.NoError(t, svc.AddCloseFriend(as("alice"), "bob"))
	require.NoError(t, svc.AddCloseFriend(as("alice"), "bob"))
	assert.True(t, f.authz.CanView(ctx, s, "bob"))

	require.NoError(t, svc.RemoveCloseFriend(as("alice"), "bob"))
	assert.False(t, f.authz.CanView(ctx, s, "bob"))
}
