package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// SessionChangedMessage announces that a session reached a new revision.
// Consumers load the session themselves; the message carries no state.
type SessionChangedMessage struct {
	SessionID string    `json:"session_id"`
	Revision  int64     `json:"revision"`
	Deleted   bool      `json:"deleted,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSessionChangedMessage(sessionID string, revision int64) *SessionChangedMessage {
	return &SessionChangedMessage{
		SessionID: sessionID,
		Revision:  revision,
		Timestamp: time.Now().UTC(),
	}
}

func (m *SessionChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SessionChangedMessageFromJSON parses a message body. Bodies without a
// session id are rejected.
func SessionChangedMessageFromJSON(data []byte) (*SessionChangedMessage, error) {
	var msg SessionChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.SessionID == "" {
		return nil, errors.New("message has no session_id")
	}
	return &msg, nil
}
