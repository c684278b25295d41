// Package chat defines the domain values shared by the server, the stores
// and the client library.
package chat

import "time"

// DefaultRoom is the room a message belongs to when none is given.
const DefaultRoom = "global"

// MaxRoomLength bounds the room name a client may send.
const MaxRoomLength = 64

// Message is one chat line as accepted by the server. ID is assigned by the
// history store and is zero until the message has been persisted.
type Message struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage builds a message stamped with the current time. An empty room
// is replaced with DefaultRoom.
func NewMessage(sender, content, room string) Message {
	return Message{
		Sender:    sender,
		Content:   content,
		Room:      NormalizeRoom(room),
		Timestamp: time.Now().UTC(),
	}
}

// NormalizeRoom maps the empty room to DefaultRoom.
func NormalizeRoom(room string) string {
	if room == "" {
		return DefaultRoom
	}
	return room
}

// WithID returns a copy of m carrying the given sequence id.
func (m Message) WithID(id int64) Message {
	m.ID = id
	return m
}
