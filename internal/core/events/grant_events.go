package events

import (
	"time"

	"github.com/google/uuid"
)

const EventTypeGrantChanged = "permission.changed"

type GrantAction string

const (
	GrantAssigned GrantAction = "assigned"
	GrantRevoked  GrantAction = "revoked"
	GrantDeleted  GrantAction = "deleted"
)

// GrantChanged is published after an assign or revoke commits.
// Permissions holds the resulting set and is empty for GrantDeleted.
type GrantChanged struct {
	ID          string      `json:"id"`
	Action      GrantAction `json:"action"`
	GrantID     string      `json:"grantId"`
	UserID      string      `json:"userId"`
	MemoryID    string      `json:"memoryId"`
	Permissions []string    `json:"permissions"`
	Timestamp   time.Time   `json:"timestamp"`
}

func NewGrantChanged(action GrantAction, grantID, userID, memoryID string, permissions []string) *GrantChanged {
	return &GrantChanged{
		ID:          uuid.NewString(),
		Action:      action,
		GrantID:     grantID,
		UserID:      userID,
		MemoryID:    memoryID,
		Permissions: permissions,
		Timestamp:   time.Now().UTC(),
	}
}

func (e *GrantChanged) EventType() string     { return EventTypeGrantChanged }
func (e *GrantChanged) EventID() string       { return e.ID }
func (e *GrantChanged) OccurredAt() time.Time { return e.Timestamp }
