package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"savebuddy/internal/core"
)

// CompletionSyncMessage announces a locally recorded completion that still
// has to reach the server. It only carries the ledger id; the worker loads
// the full record from the local ledger.
type CompletionSyncMessage struct {
	CompletionID string    `json:"completionId"`
	UserID       int64     `json:"userId"`
	ChallengeID  string    `json:"challengeId"`
	Instance     string    `json:"instance"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewCompletionSyncMessage(rec core.CompletionRecord) *CompletionSyncMessage {
	return &CompletionSyncMessage{
		CompletionID: rec.ID,
		UserID:       rec.UserID,
		ChallengeID:  rec.ChallengeID,
		Instance:     rec.Instance,
		Timestamp:    time.Now(),
	}
}

func (m *CompletionSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func CompletionSyncMessageFromJSON(data []byte) (*CompletionSyncMessage, error) {
	var msg CompletionSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.CompletionID == "" {
		return nil, errors.New("completion sync message without completion id")
	}
	return &msg, nil
}
