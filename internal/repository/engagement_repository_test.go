package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/testutil"
)

func TestViewRepository_InsertIfAbsent(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewViewRepository(db)
	ctx := context.Background()

	v := &model.StoryView{StoryID: "s1", ViewerID: "bob", ViewedAt: time.Now().UTC()}
	inserted, err := repo.InsertIfAbsent(ctx, v)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertIfAbsent(ctx, &model.StoryView{StoryID: "s1", ViewerID: "bob", ViewedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.False(t, inserted)

	seen, err := repo.ViewedStoryIDs(ctx, "bob", []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"s1": true}, seen)

	list, err := repo.ListByStory(ctx, "s1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReactionRepository_UpsertAndDelete(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewReactionRepository(db)
	ctx := context.Background()

	created, err := repo.Upsert(ctx, "s1", "bob", "🔥")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Upsert(ctx, "s1", "bob", "😂")
	require.NoError(t, err)
	assert.False(t, created)

	var r model.StoryReaction
	require.NoError(t, db.Where("story_id = ? AND user_id = ?", "s1", "bob").First(&r).Error)
	assert.Equal(t, "😂", r.Emoji)

	deleted, err := repo.Delete(ctx, "s1", "bob")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = repo.Delete(ctx, "s1", "bob")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestAudienceRepository(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAudienceRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceAudience(ctx, "s1", []string{"bob", "carol"}, []string{"carol"}))
	list, err := repo.ListAudience(ctx, "s1")
	require.NoError(t, err)
	modes := map[string]model.AudienceMode{}
	for _, a := range list {
		modes[a.UserID] = a.Mode
	}
	assert.Equal(t, map[string]model.AudienceMode{"bob": model.AudienceAllow, "carol": model.AudienceDeny}, modes)

	require.NoError(t, repo.CreateMentions(ctx, "s1", []string{"dave", "dave"}))
	var mentions int64
	require.NoError(t, db.Model(&model.StoryMention{}).Count(&mentions).Error)
	assert.Equal(t, int64(1), mentions)

	require.NoError(t, repo.AddCloseFriend(ctx, "alice", "bob"))
	require.NoError(t, repo.AddCloseFriend(ctx, "alice", "bob"))
	ok, err := repo.IsCloseFriend(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, repo.RemoveCloseFriend(ctx, "alice", "bob"))
	ok, err = repo.IsCloseFriend(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFollowAndFanRepository(t *testing.T) {
	db := testutil.NewDB(t)
	follows := NewFollowRepository(db)
	fans := NewFanRepository(db)
	ctx := context.Background()

	require.NoError(t, follows.Create(ctx, "bob", "alice"))
	require.NoError(t, follows.Create(ctx, "bob", "alice"))
	require.NoError(t, fans.Create(ctx, "alice", "bob"))

	ids, err := follows.FolloweeIDs(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)

	ok, err := follows.Exists(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := fans.ListFans(ctx, "alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].FanID)
}
