package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/model"
)

func TestStoryService_ViewStoryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	svc := f.stories()
	s := f.seed(t, "alice", model.PrivacyPublic, time.Minute, 24)

	recorded, err := svc.ViewStory(as("bob"), s.ID, 3*time.Second, true)
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = svc.ViewStory(as("bob"), s.ID, time.Second, false)
	require.NoError(t, err)
	assert.False(t, recorded)

	recorded, err = svc.ViewStory(as("alice"), s.ID, time.Second, true)
	require.NoError(t, err)
	assert.False(t, recorded, "authors are not viewers")

	assert.EqualValues(t, 1, f.reload(t, s.ID).ViewCount)
	views, err := svc.ListViewers(as("alice"), s.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.EqualValues(t, 3000, views[0].DurationMs)
	assert.True(t, views[0].Completed)

	_, err = svc.ListViewers(as("bob"), s.ID, 1, 10)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestStoryService_ViewStoryChecks(t *testing.T) {
	f := newFixture(t)
	svc := f.stories()
	s := f.seed(t, "alice", model.PrivacyFollowers, time.Minute, 24)

	_, err := svc.ViewStory(context.Background(), s.ID, 0, false)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = svc.ViewStory(as("bob"), s.ID, 0, false)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.ViewStory(as("bob"), "missing", 0, false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	f.follow(t, "bob", "alice")
	require.NoError(t, svc.RecordView(as("bob"), s.ID, time.Second, false))
	assert.EqualValues(t, 1, f.reload(t, s.ID).ViewCount)
}

func TestStoryService_Get(t *testing.T) {
	f := newFixture(t)
	svc := f.stories()
	live := f.seed(t, "alice", model.PrivacyPublic, time.Minute, 1)
	expired := f.seed(t, "alice", model.PrivacyPublic, 61*time.Minute, 1)

	got, err := svc.Get(as("bob"), live.ID)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)

	_, err = svc.Get(as("bob"), expired.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStoryService_Update(t *testing.T) {
	f := newFixture(t)
	svc := f.stories()
	ctx := context.Background()
	s := f.seed(t, "alice", model.PrivacyPublic, time.Minute, 24)

	caption := "  sunset  "
	_, err := svc.Update(as("bob"), s.ID, UpdateInput{Caption: &caption})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.Update(as("alice"), s.ID, UpdateInput{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	bad := model.Privacy("everyone")
	_, err = svc.Update(as("alice"), s.ID, UpdateInput{Privacy: &bad})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	custom := model.PrivacyCustom
	updated, err := svc.Update(as("alice"), s.ID, UpdateInput{Caption: &caption, Privacy: &custom, Allow: []string{"bob"}})
	require.NoError(t, err)
	assert.Equal(t, "sunset", *updated.Caption)
	assert.Equal(t, model.PrivacyCustom, updated.Privacy)

	assert.True(t, f.authz.CanView(ctx, updated, "bob"))
	assert.False(t, f.authz.CanView(ctx, updated, "carol"))

	events, err := f.repos.Events.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventUpdated, events[0].Kind)

	old := f.seed(t, "alice", model.PrivacyPublic, 2*time.Hour, 1)
	_, err = svc.Update(as("alice"), old.ID, UpdateInput{Caption: &caption})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestStoryService_Delete(t *testing.T) {
	f := newFixture(t)
	svc := f.stories()
	ctx := context.Background()
	s := f.seed(t, "alice", model.PrivacyPublic, time.Minute, 24)

	assert.ErrorIs(t, svc.Delete(as("bob"), s.ID), apperr.ErrForbidden)
	require.NoError(t, svc.Delete(as("alice"), s.ID))
	assert.ErrorIs(t, svc.Delete(as("alice"), s.ID), apperr.ErrNotFound)

	assert.False(t, f.reload(t, s.ID).IsActive)
	archived, err := f.repos.Archives.ListByAuthor(ctx, "alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, model.ArchiveDeleted, archived[0].Reason)

	events, err := f.repos.Events.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventDeleted, events[0].Kind)

	_, err = svc.Get(as("bob"), s.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStoryService_Reactions(t *testing.T) {
	f := newFixture(t)
	svc := f.stories()
	s := f.seed(t, "alice", model.PrivacyPublic, time.Minute, 24)

	require.NoError(t, svc.React(as("bob"), s.ID, "🔥"))
	require.NoError(t, svc.React(as("bob"), s.ID, "😂"))
	require.NoError(t, svc.React(as("carol"), s.ID, "🔥"))
	assert.EqualValues(t, 2, f.reload(t, s.ID).ReactionCount)

	require.NoError(t, svc.Unreact(as("bob"), s.ID))
	require.NoError(t, svc.Unreact(as("bob"), s.ID))
	assert.EqualValues(t, 1, f.reload(t, s.ID).ReactionCount)

	assert.ErrorIs(t, svc.React(as("bob"), s.ID, "  "), apperr.ErrValidation)
	assert.ErrorIs(t, svc.React(as("bob"), s.ID, strings.Repeat("x", MaxEmojiLength+1)), apperr.ErrValidation)
}

func TestStoryService_Replies(t *testing.T) {
	f := newFixture(t)
	svc := f.stories()
	s := f.seed(t, "alice", model.PrivacyPublic, time.Minute, 24)

	reply, err := svc.Reply(as("bob"), s.ID, "  nice  ")
	require.NoError(t, err)
	assert.Equal(t, "nice", reply.Text)

	_, err = svc.Reply(as("bob"), s.ID, strings.Repeat("a", MaxReplyLength+1))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.Reply(as("bob"), s.ID, strings.Repeat("é", MaxReplyLength))
	require.NoError(t, err)

	assert.EqualValues(t, 2, f.reload(t, s.ID).ReplyCount)
	replies, err := svc.ListReplies(as("alice"), s.ID, 1, 10)
	require.NoError(t, err)
	assert.Len(t, replies, 2)

	_, err = svc.ListReplies(as("bob"), s.ID, 1, 10)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestStoryService_ListUserStories(t *testing.T) {
	f := newFixture(t)
	svc := f.stories()
	first := f.seed(t, "alice", model.PrivacyPublic, 2*time.Hour, 24)
	f.seed(t, "alice", model.PrivacyFollowers, time.Hour, 24)
	last := f.seed(t, "alice", model.PrivacyPublic, time.Minute, 24)

	got, err := svc.ListUserStories(as("bob"), "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, last.ID, got[1].ID)

	own, err := svc.ListUserStories(as("alice"), "alice")
	require.NoError(t, err)
	assert.Len(t, own, 3)
}
