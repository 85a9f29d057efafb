package rtsession

import (
	"sync"
	"time"
)

// MessageKind distinguishes chat bubbles from error notices.
type MessageKind string

const (
	KindChat  MessageKind = "chat"
	KindError MessageKind = "error"
)

// Role of a chat message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TextPart is the streaming-transcript half of a message.
type TextPart struct {
	Content   string    `json:"content"`
	Streaming bool      `json:"streaming"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioPart is the finished-clip half of a message. Processing is true
// between speech end and clip availability.
type AudioPart struct {
	ClipURL    string        `json:"clip_url,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Processing bool          `json:"processing"`
}

// Message is the normalized UI-facing record keyed by a stable
// response or utterance id. Streaming transcript deltas and finalized
// audio clips merge into the same record, in whichever order they land.
type Message struct {
	ID          string      `json:"id"`
	Kind        MessageKind `json:"kind"`
	Role        Role        `json:"role"`
	Text        *TextPart   `json:"text,omitempty"`
	Audio       *AudioPart  `json:"audio,omitempty"`
	Interrupted bool        `json:"interrupted,omitempty"`
}

// MessageStore holds the session's messages in arrival order with
// upsert merge semantics: a delta arriving before its message exists
// creates the record, and text/audio sub-parts merge commutatively.
type MessageStore struct {
	mu       sync.Mutex
	order    []string
	byID     map[string]*Message
	onChange func(Message)
}

func NewMessageStore(onChange func(Message)) *MessageStore {
	return &MessageStore{
		byID:     make(map[string]*Message),
		onChange: onChange,
	}
}

// Upsert creates the message if absent, applies mutate to it, and
// notifies the change observer with a snapshot.
func (s *MessageStore) Upsert(id string, role Role, mutate func(*Message)) Message {
	s.mu.Lock()
	m, ok := s.byID[id]
	if !ok {
		m = &Message{ID: id, Kind: KindChat, Role: role}
		s.byID[id] = m
		s.order = append(s.order, id)
	}
	mutate(m)
	snapshot := *m
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(snapshot)
	}
	return snapshot
}

// Append adds a standalone message (user-authored text, error notice).
func (s *MessageStore) Append(m Message) Message {
	return s.Upsert(m.ID, m.Role, func(dst *Message) {
		*dst = m
	})
}

func (s *MessageStore) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// List returns message snapshots in arrival order.
func (s *MessageStore) List() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
