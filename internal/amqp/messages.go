package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncRequestKind tells the worker what to do.
type SyncRequestKind string

const (
	// RequestDrain replays the outbox.
	RequestDrain SyncRequestKind = "drain"
	// RequestRefresh drains, then refreshes the cached transactions for a range.
	RequestRefresh SyncRequestKind = "refresh"
	// RequestRetryFailed requeues parked entries, then drains.
	RequestRetryFailed SyncRequestKind = "retry_failed"
)

// SyncRequest is a lightweight message asking the worker to sync.
// From and To are only used by refresh requests; zero means "everything".
type SyncRequest struct {
	ID          string          `json:"id"`
	Kind        SyncRequestKind `json:"kind"`
	From        time.Time       `json:"from,omitempty"`
	To          time.Time       `json:"to,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
}

// NewSyncRequest creates a request with a fresh id
func NewSyncRequest(kind SyncRequestKind) *SyncRequest {
	return &SyncRequest{
		ID:          uuid.NewString(),
		Kind:        kind,
		RequestedAt: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SyncRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncRequestFromJSON decodes and validates a request
func SyncRequestFromJSON(data []byte) (*SyncRequest, error) {
	var msg SyncRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case RequestDrain, RequestRefresh, RequestRetryFailed:
	default:
		return nil, fmt.Errorf("unknown sync request kind %q", msg.Kind)
	}
	if msg.Kind == RequestRefresh && !msg.From.IsZero() && !msg.To.IsZero() && msg.From.After(msg.To) {
		return nil, fmt.Errorf("refresh range start %s is after end %s", msg.From, msg.To)
	}
	return &msg, nil
}
