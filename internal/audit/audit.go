// Package audit provides an append-only trail of settlement actions.
//
// Every money movement and state transition is recorded with actor
// information and before/after snapshots. Writes are best-effort: a
// failed audit insert never fails the business operation it describes.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

type contextKey string

const (
	ctxActorType contextKey = "audit_actor_type"
	ctxActorID   contextKey = "audit_actor_id"
	ctxIPAddress contextKey = "audit_ip"
	ctxRequestID contextKey = "audit_request_id"
)

// WithActor attaches actor info to the context for audit logging.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = context.WithValue(ctx, ctxActorType, actorType)
	ctx = context.WithValue(ctx, ctxActorID, actorID)
	return ctx
}

// WithIP attaches the client IP for audit logging.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxIPAddress, ip)
}

// WithRequestID attaches a request ID for audit correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestID, requestID)
}

func actorFromCtx(ctx context.Context) (actorType, actorID, ip, requestID string) {
	if v, ok := ctx.Value(ctxActorType).(string); ok {
		actorType = v
	} else {
		actorType = "system"
	}
	if v, ok := ctx.Value(ctxActorID).(string); ok {
		actorID = v
	}
	if v, ok := ctx.Value(ctxIPAddress).(string); ok {
		ip = v
	}
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		requestID = v
	}
	return
}

// Entry represents a single audit log record.
type Entry struct {
	ID           int64     `json:"id"`
	EntityType   string    `json:"entityType"` // "transaction", "escrow", "dispute", "wallet", "receipt"
	EntityID     string    `json:"entityId"`
	ActorType    string    `json:"actorType"` // "farmer", "transporter", "admin", "system"
	ActorID      string    `json:"actorId,omitempty"`
	Action       string    `json:"action"`
	Amount       string    `json:"amount,omitempty"`
	Reference    string    `json:"reference,omitempty"`
	BeforeState  string    `json:"beforeState,omitempty"`
	AfterState   string    `json:"afterState,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	RequestID    string    `json:"requestId,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Query filters audit entries. Zero values mean "no filter".
type Query struct {
	EntityType string
	EntityID   string
	ActorID    string
	Action     string
	From       time.Time
	To         time.Time
	Limit      int
}

// Logger persists audit entries.
type Logger interface {
	Append(ctx context.Context, entry *Entry) error
	Search(ctx context.Context, q Query) ([]*Entry, error)
}

// Snapshot returns a JSON string for a before/after state snapshot.
func Snapshot(state any) string {
	if state == nil {
		return "{}"
	}
	b, err := json.Marshal(state)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (q Query) matches(e *Entry) bool {
	if q.EntityType != "" && e.EntityType != q.EntityType {
		return false
	}
	if q.EntityID != "" && e.EntityID != q.EntityID {
		return false
	}
	if q.ActorID != "" && e.ActorID != q.ActorID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.CreatedAt.After(q.To) {
		return false
	}
	return true
}
