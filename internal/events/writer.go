package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event types emitted for the host application.
const (
	TaskRegistered     = "task.registered"
	TaskAssigned       = "task.assigned"
	TaskUnassigned     = "task.unassigned"
	TaskEstimated      = "task.estimated"
	TaskClosed         = "task.closed"
	ContractAdded      = "contract.added"
	ContractUpdated    = "contract.updated"
	ContractMarked     = "contract.marked_for_removal"
	ContractRemoved    = "contract.removed"
	ContributorJoined  = "contributor.joined"
	InvoiceOpened      = "invoice.opened"
	InvoiceTaskAdded   = "invoice.task_added"
	InvoicePaid        = "invoice.paid"
	PlatformInvoiced   = "platform_invoice.created"
	WalletRegistered   = "wallet.registered"
	WalletActivated    = "wallet.activated"
	ProjectRegistered  = "project.registered"
	ProjectConfigSaved = "project.config_saved"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction so it commits
// or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx sqlx.ExecerContext, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	if actorID == "" {
		actorID = "system"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
