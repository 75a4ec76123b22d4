package core

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the mutation an Event describes.
type EventType string

const (
	EventPostCreated    EventType = "post.created"
	EventPostLiked      EventType = "post.liked"
	EventCommentAdded   EventType = "comment.added"
	EventCommentEdited  EventType = "comment.edited"
	EventCommentDeleted EventType = "comment.deleted"
)

// Wire names used on push channels. Ping is synthetic and never published on the bus.
const (
	WirePostNew       = "post:new"
	WirePostLike      = "post:like"
	WireCommentAdd    = "comment:add"
	WireCommentEdit   = "comment:edit"
	WireCommentDelete = "comment:delete"
	WirePing          = "ping"
)

var wireNames = map[EventType]string{
	EventPostCreated:    WirePostNew,
	EventPostLiked:      WirePostLike,
	EventCommentAdded:   WireCommentAdd,
	EventCommentEdited:  WireCommentEdit,
	EventCommentDeleted: WireCommentDelete,
}

// WireName returns the push channel name of t, or "" for unknown types.
func (t EventType) WireName() string {
	return wireNames[t]
}

// EventTypeFromWire maps a push channel name back to its EventType.
func EventTypeFromWire(name string) (EventType, bool) {
	for t, w := range wireNames {
		if w == name {
			return t, true
		}
	}
	return "", false
}

// Event is an immutable mutation notification. Seq is assigned by the bus.
type Event struct {
	Type   EventType
	PostID string
	Post   Post
	Seq    uint64
}

// NewPostEvent builds an event carrying a snapshot of post.
func NewPostEvent(t EventType, post Post) Event {
	return Event{Type: t, PostID: post.ID, Post: post.Clone()}
}

// Frame is the JSON object written on push channels.
type Frame struct {
	Type   string `json:"type"`
	PostID string `json:"postId,omitempty"`
	Post   *Post  `json:"post,omitempty"`
}

// PingFrame is the keep-alive frame sent on connect and on idle streams.
var PingFrame = Frame{Type: WirePing}

// Frame converts the event to its wire representation.
func (e Event) Frame() (Frame, error) {
	name := e.Type.WireName()
	if name == "" {
		return Frame{}, fmt.Errorf("unknown event type %q", e.Type)
	}
	post := e.Post
	return Frame{Type: name, PostID: e.PostID, Post: &post}, nil
}

// MarshalFrame encodes the event as a push channel JSON payload.
func (e Event) MarshalFrame() ([]byte, error) {
	f, err := e.Frame()
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}
