package realtime

import (
	"sort"
	"sync"

	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/pkg/observable"
)

// Sink receives reconciled changes. Update never inserts.
type Sink interface {
	Insert(s model.Story) bool
	Update(s model.Story) bool
	Remove(storyID string) bool
}

// Collection is a viewer's local set of live stories. Revision bumps on
// every change so callers can re-render.
type Collection struct {
	mu      sync.RWMutex
	stories map[string]model.Story

	revMu    sync.Mutex
	rev      int64
	revision *observable.Cell[int64]
}

func NewCollection(groups []model.StoryGroup) *Collection {
	c := &Collection{stories: make(map[string]model.Story), revision: observable.NewCell[int64](0)}
	for _, g := range groups {
		for _, s := range g.Stories {
			c.stories[s.ID] = s
		}
	}
	return c
}

func (c *Collection) Insert(s model.Story) bool {
	c.mu.Lock()
	if _, ok := c.stories[s.ID]; ok {
		c.mu.Unlock()
		return false
	}
	c.stories[s.ID] = s
	c.mu.Unlock()
	c.bump()
	return true
}

func (c *Collection) Update(s model.Story) bool {
	c.mu.Lock()
	if _, ok := c.stories[s.ID]; !ok {
		c.mu.Unlock()
		return false
	}
	c.stories[s.ID] = s
	c.mu.Unlock()
	c.bump()
	return true
}

func (c *Collection) Remove(id string) bool {
	c.mu.Lock()
	if _, ok := c.stories[id]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.stories, id)
	c.mu.Unlock()
	c.bump()
	return true
}

func (c *Collection) Get(id string) (model.Story, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stories[id]
	return s, ok
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stories)
}

func (c *Collection) Revision() int64 { return c.revision.Get() }

// OnChange registers fn for revision bumps. fn must not mutate the
// collection.
func (c *Collection) OnChange(fn func(int64)) func() { return c.revision.Subscribe(fn) }

// Groups regroups by author, stories oldest first, most recently active
// author first.
func (c *Collection) Groups() []model.StoryGroup {
	c.mu.RLock()
	byAuthor := make(map[string][]model.Story)
	for _, s := range c.stories {
		byAuthor[s.AuthorID] = append(byAuthor[s.AuthorID], s)
	}
	c.mu.RUnlock()

	groups := make([]model.StoryGroup, 0, len(byAuthor))
	for author, list := range byAuthor {
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
		groups = append(groups, model.StoryGroup{
			AuthorID: author,
			Stories:  list,
			LatestAt: list[len(list)-1].CreatedAt,
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].LatestAt.Equal(groups[j].LatestAt) {
			return groups[i].AuthorID < groups[j].AuthorID
		}
		return groups[i].LatestAt.After(groups[j].LatestAt)
	})
	return groups
}

func (c *Collection) bump() {
	c.revMu.Lock()
	defer c.revMu.Unlock()
	c.rev++
	c.revision.Set(c.rev)
}
