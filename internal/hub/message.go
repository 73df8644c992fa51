package hub

import (
	"encoding/json"
	"fmt"

	"github.com/albertsyd/collabengine/internal/operations"
)

// MessageType represents the kind of message being sent
type MessageType string

const (
	MsgTypeContent   MessageType = "content"    // Full content update
	MsgTypeOperation MessageType = "operation"  // OT operation
	MsgTypeAck       MessageType = "ack"        // Acknowledgement of a sender's operation
	MsgTypeUserCount MessageType = "user_count" // System message for participant count
)

// Message is the websocket protocol envelope for exchanging document
// content, operations, acknowledgements, or system notifications.
type Message struct {
	Type       MessageType           `json:"type"`
	DocumentID string                `json:"document_id,omitempty"`
	Author     string                `json:"author,omitempty"`
	Content    string                `json:"content,omitempty"`
	Operation  *operations.Operation `json:"operation,omitempty"`
	OpID       string                `json:"op_id,omitempty"`
	Version    int                   `json:"version,omitempty"`
	UserCount  int                   `json:"user_count,omitempty"`
}

// NewOperationMessage creates a message carrying an OT operation.
func NewOperationMessage(documentID string, op *operations.Operation) *Message {
	return &Message{
		Type:       MsgTypeOperation,
		DocumentID: documentID,
		Author:     op.Author,
		Operation:  op,
	}
}

// NewAckMessage acknowledges an accepted operation back to its sender.
func NewAckMessage(documentID, opID string, version int) *Message {
	return &Message{
		Type:       MsgTypeAck,
		DocumentID: documentID,
		OpID:       opID,
		Version:    version,
	}
}

// NewContentMessage creates a message with full content.
func NewContentMessage(documentID, content string, version int) *Message {
	return &Message{
		Type:       MsgTypeContent,
		DocumentID: documentID,
		Content:    content,
		Version:    version,
	}
}

// NewUserCountMessage creates a participant count system message.
func NewUserCountMessage(count int) *Message {
	return &Message{
		Type:      MsgTypeUserCount,
		UserCount: count,
	}
}

// ToBytes serializes the message to JSON bytes.
func (m *Message) ToBytes() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// MessageFromBytes deserializes a message from JSON bytes.
func MessageFromBytes(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}
