package core

import (
	"time"

	"github.com/google/uuid"
)

// SyncEventType names what happened to an operation.
type SyncEventType string

const (
	EventWriteSucceeded  SyncEventType = "write_succeeded"
	EventWriteQueued     SyncEventType = "write_queued"
	EventReadOffline     SyncEventType = "read_offline"
	EventEntryReplayed   SyncEventType = "entry_replayed"
	EventEntryParked     SyncEventType = "entry_parked"
	EventBalanceOverride SyncEventType = "balance_override"
)

// SyncEvent is a notification about a sync outcome, published for other processes
// that want to show an offline indicator or refresh views.
type SyncEvent struct {
	ID        string        `json:"id"`
	Type      SyncEventType `json:"type"`
	Kind      PayloadKind   `json:"kind,omitempty"`
	SubjectID int64         `json:"subject_id,omitempty"`
	Action    Action        `json:"action,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewSyncEvent stamps a fresh event id and time.
func NewSyncEvent(t SyncEventType, kind PayloadKind, subjectID int64, action Action) SyncEvent {
	return SyncEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Kind:      kind,
		SubjectID: subjectID,
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
}
