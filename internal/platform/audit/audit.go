// Package audit keeps a trail of who touched which record: every
// authenticated write and every read of a patient-sensitive route.
package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Action classifies a request by its effect.
type Action string

const (
	ActionRead   Action = "READ"
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// ParseAction accepts an action name as stored.
func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionRead, ActionCreate, ActionUpdate, ActionDelete:
		return a, true
	}
	return "", false
}

// ActionFor maps an HTTP method to an action.
func ActionFor(method string) Action {
	switch method {
	case http.MethodPost:
		return ActionCreate
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionRead
	}
}

// Event is one audited request.
type Event struct {
	ID        uuid.UUID  `json:"id"`
	Recorded  time.Time  `json:"recorded"`
	ActorID   uuid.UUID  `json:"actor_id"`
	ActorRole string     `json:"actor_role"`
	Action    Action     `json:"action"`
	Method    string     `json:"method"`
	Route     string     `json:"route"`
	EntityID  *uuid.UUID `json:"entity_id,omitempty"`
	Status    int        `json:"status"`
	IPAddress string     `json:"ip_address,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

// Filter narrows a trail search. Zero fields match everything; From is
// inclusive and To exclusive.
type Filter struct {
	ActorID  *uuid.UUID
	EntityID *uuid.UUID
	Action   Action
	From     *time.Time
	To       *time.Time
}

// Store persists and searches events. Search returns newest first.
type Store interface {
	Record(ctx context.Context, e *Event) error
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Event, int, error)
}
