package protocol

import "encoding/json"

// ClientEvent is an outbound control-channel event. Optional fields
// cover the subset of shapes the console sends; absent fields are
// omitted on the wire.
type ClientEvent struct {
	Type    string            `json:"type"`
	EventID string            `json:"event_id,omitempty"`
	Item    *ConversationItem `json:"item,omitempty"`
	Session json.RawMessage   `json:"session,omitempty"`
}

// ConversationItem is the item payload of conversation.item.create.
type ConversationItem struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content,omitempty"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewUserTextItem builds the conversation.item.create event for a
// user-authored text message.
func NewUserTextItem(text string) ClientEvent {
	return ClientEvent{
		Type: "conversation.item.create",
		Item: &ConversationItem{
			Type: "message",
			Role: "user",
			Content: []ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	}
}

// NewResponseCreate builds the trigger event asking the model to
// generate a response to the conversation so far.
func NewResponseCreate() ClientEvent {
	return ClientEvent{Type: "response.create"}
}

// NewSessionUpdate builds a session.update event carrying a serialized
// session configuration.
func NewSessionUpdate(sessionJSON []byte) ClientEvent {
	return ClientEvent{Type: "session.update", Session: sessionJSON}
}
