package repo

import (
	"context"
	"database/sql"
	"fmt"

	"contribline/internal/domain"
)

type eventRow struct {
	ID         int64          `db:"id"`
	TS         string         `db:"ts"`
	Type       string         `db:"type"`
	ProjectID  sql.NullString `db:"project_id"`
	EntityKind string         `db:"entity_kind"`
	EntityID   sql.NullString `db:"entity_id"`
	ActorID    string         `db:"actor_id"`
	Payload    sql.NullString `db:"payload_json"`
}

func (e eventRow) toDomain() domain.Event {
	return domain.Event{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID.String,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID.String,
		ActorID:    e.ActorID,
		Payload:    e.Payload.String,
	}
}

const eventCols = `id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json`

// EventFilter narrows the event log. Before pages backwards by id.
type EventFilter struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	Before     int64
	Limit      int
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	var w where
	if f.ProjectID != "" {
		w.add("project_id=?", f.ProjectID)
	}
	if f.Type != "" {
		w.add("type=?", f.Type)
	}
	if f.EntityKind != "" {
		w.add("entity_kind=?", f.EntityKind)
	}
	if f.EntityID != "" {
		w.add("entity_id=?", f.EntityID)
	}
	if f.Before > 0 {
		w.add("id<?", f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM events%s ORDER BY id DESC LIMIT ?`, eventCols, w.sql())
	var rows []eventRow
	if err := r.q().SelectContext(ctx, &rows, query, append(w.args, limit)...); err != nil {
		return nil, classify(err)
	}
	res := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var w where
	if projectID != "" {
		w.add("project_id=?", projectID)
	}
	if cursor > 0 {
		w.add("id>?", cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM events%s ORDER BY id ASC LIMIT ?`, eventCols, w.sql())
	var rows []eventRow
	if err := r.q().SelectContext(ctx, &rows, query, append(w.args, limit)...); err != nil {
		return nil, classify(err)
	}
	res := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

// LatestEventID returns the most recent event ID for a project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	var id int64
	err := r.q().GetContext(ctx, &id, `SELECT COALESCE(MAX(id),0) FROM events WHERE project_id=?`, projectID)
	return id, classify(err)
}
