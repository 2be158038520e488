// Package realtime carries story change notifications to viewers and merges
// them into local state.
package realtime

import (
	"context"
	"encoding/json"

	"github.com/d60-Lab/storyline/internal/model"
)

type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

// Event is one change as seen by a single viewer. CanView is computed by the
// sender for that viewer.
type Event struct {
	Kind     Kind         `json:"kind"`
	StoryID  string       `json:"story_id"`
	AuthorID string       `json:"author_id"`
	CanView  bool         `json:"can_view"`
	Story    *model.Story `json:"story,omitempty"`
}

type Status string

const (
	StatusClosed     Status = "closed"
	StatusSubscribed Status = "subscribed"
	StatusErrored    Status = "errored"
)

// Subscription delivers events for one topic until closed.
type Subscription interface {
	Events() <-chan Event
	Status() <-chan Status
	Close() error
}

// Transport subscribes to topics. Reconnection is the transport's concern.
type Transport interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, ev Event) error
}

// ViewerTopic is the per-viewer channel name. Slash separated so it is a
// valid MQTT topic as well.
func ViewerTopic(viewerID string) string { return "stories/viewer/" + viewerID }

const subBuffer = 64

func encode(ev Event) ([]byte, error) { return json.Marshal(ev) }

func decode(b []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(b, &ev)
	return ev, err
}
