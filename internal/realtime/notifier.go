package realtime

import (
	"time"

	"github.com/isoko-rw/isoko/internal/audit"
)

// AuditNotifier bridges the audit recorder to the hub: every committed
// audit entry becomes a live event.
type AuditNotifier struct {
	hub *Hub
}

// NewAuditNotifier wraps a hub so it satisfies audit.Notifier.
func NewAuditNotifier(hub *Hub) *AuditNotifier {
	return &AuditNotifier{hub: hub}
}

var _ audit.Notifier = (*AuditNotifier)(nil)

// Notify broadcasts a committed audit entry as a real-time event.
func (n *AuditNotifier) Notify(e *audit.Entry) {
	if n == nil || n.hub == nil || e == nil {
		return
	}

	data := map[string]interface{}{
		"entityId": e.EntityID,
		"action":   e.Action,
		"success":  e.Success,
	}
	if e.ActorID != "" {
		data["actorId"] = e.ActorID
	}
	if e.Amount != "" {
		data["amount"] = e.Amount
	}
	if e.Reference != "" {
		data["reference"] = e.Reference
	}
	if e.Description != "" {
		data["description"] = e.Description
	}

	n.hub.Broadcast(&Event{
		Type:      EventType(e.EntityType),
		Action:    e.Action,
		Timestamp: time.Now(),
		Data:      data,
	})
}
