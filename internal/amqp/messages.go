package amqp

import (
	"encoding/json"
	"time"
)

// BatchEventMessage is the lightweight event published when an import
// batch changes state. It carries identifiers only; the worker fetches
// the batch from the database.
type BatchEventMessage struct {
	BatchID   string    `json:"batch_id"`
	UserID    string    `json:"user_id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// Batch lifecycle events.
const (
	EventBatchStaged    = "batch.staged"
	EventBatchProcessed = "batch.processed"
	EventBatchConfirmed = "batch.confirmed"
)

// NewBatchEventMessage creates an event message for a batch.
func NewBatchEventMessage(event, batchID, userID string) *BatchEventMessage {
	return &BatchEventMessage{
		BatchID:   batchID,
		UserID:    userID,
		Event:     event,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *BatchEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BatchEventMessageFromJSON creates a message from JSON bytes.
func BatchEventMessageFromJSON(data []byte) (*BatchEventMessage, error) {
	var msg BatchEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
