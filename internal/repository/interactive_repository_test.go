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

func TestResponseRepository_UpsertOverwrites(t *testing.T) {
	db := testutil.NewDB(t)
	elements := NewElementRepository(db)
	responses := NewResponseRepository(db)
	ctx := context.Background()

	require.NoError(t, elements.CreateBatch(ctx, []model.InteractiveElement{{
		ID: "e1", StoryID: "s1", Type: model.ElementPoll, Data: `{"question":"?","options":["a","b"]}`, CreatedAt: time.Now().UTC(),
	}}))

	vote := func(user string, idx int) {
		require.NoError(t, responses.Upsert(ctx, &model.InteractiveResponse{ElementID: "e1", UserID: user, OptionIndex: &idx}))
	}
	vote("bob", 0)
	vote("carol", 1)
	vote("bob", 1)

	counts, err := responses.CountOptions(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{1: 2}, counts)

	list, err := responses.ListByElement(ctx, "e1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	el, err := elements.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.ElementPoll, el.Type)

	require.NoError(t, elements.DeleteByStory(ctx, "s1"))
	left, err := elements.ListByStory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, left)
}
