package repo

import (
	"context"
	"database/sql"
	"time"

	"contribline/internal/domain"
)

type taskRow struct {
	IssueID        string         `db:"issue_id"`
	RepoFullName   string         `db:"repo_fullname"`
	Provider       string         `db:"provider"`
	Title          sql.NullString `db:"title"`
	Role           string         `db:"role"`
	Estimation     int            `db:"estimation_minutes"`
	Assignee       sql.NullString `db:"assignee"`
	AssignmentDate sql.NullString `db:"assignment_date"`
	Deadline       sql.NullString `db:"deadline"`
	ClosedAt       sql.NullString `db:"closed_at"`
	CreatedAt      string         `db:"created_at"`
}

func (t taskRow) toDomain() domain.Task {
	return domain.Task{
		ID:             domain.TaskID{IssueID: t.IssueID, RepoFullName: t.RepoFullName, Provider: t.Provider},
		Title:          t.Title.String,
		Role:           t.Role,
		Estimation:     t.Estimation,
		Assignee:       nullString(t.Assignee),
		AssignmentDate: parseNullTime(t.AssignmentDate),
		Deadline:       parseNullTime(t.Deadline),
		ClosedAt:       parseNullTime(t.ClosedAt),
		CreatedAt:      parseTime(t.CreatedAt),
	}
}

const taskCols = `issue_id,repo_fullname,provider,title,role,estimation_minutes,assignee,assignment_date,deadline,closed_at,created_at`

const taskKey = `issue_id=? AND repo_fullname=? AND provider=?`

func taskArgs(id domain.TaskID) []any {
	return []any{id.IssueID, id.RepoFullName, id.Provider}
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	var assignee any
	if t.Assignee != nil {
		assignee = *t.Assignee
	}
	_, err := r.q().ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID.IssueID, t.ID.RepoFullName, t.ID.Provider, nullable(t.Title), t.Role, t.Estimation,
		assignee, nullableTime(t.AssignmentDate), nullableTime(t.Deadline), nullableTime(t.ClosedAt), formatTime(t.CreatedAt))
	return classify(err)
}

func (r Repo) GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	var row taskRow
	err := r.q().GetContext(ctx, &row, `SELECT `+taskCols+` FROM tasks WHERE `+taskKey, taskArgs(id)...)
	if err != nil {
		return domain.Task{}, notFound(err, "task "+id.String())
	}
	return row.toDomain(), nil
}

// SetAssignment writes assignee, assignment date and deadline together.
// A nil assignee clears all three.
func (r Repo) SetAssignment(ctx context.Context, id domain.TaskID, assignee *string, assignedAt, deadline *time.Time) error {
	var who any
	if assignee != nil {
		who = *assignee
	} else {
		assignedAt, deadline = nil, nil
	}
	args := append([]any{who, nullableTime(assignedAt), nullableTime(deadline)}, taskArgs(id)...)
	return mustAffect(r.q().ExecContext(ctx, `UPDATE tasks SET assignee=?, assignment_date=?, deadline=? WHERE `+taskKey, args...))
}

func (r Repo) SetEstimation(ctx context.Context, id domain.TaskID, minutes int) error {
	args := append([]any{minutes}, taskArgs(id)...)
	return mustAffect(r.q().ExecContext(ctx, `UPDATE tasks SET estimation_minutes=? WHERE `+taskKey, args...))
}

func (r Repo) SetTaskDetails(ctx context.Context, id domain.TaskID, title, role string) error {
	args := append([]any{nullable(title), role}, taskArgs(id)...)
	return mustAffect(r.q().ExecContext(ctx, `UPDATE tasks SET title=?, role=? WHERE `+taskKey, args...))
}

// SetClosed stamps or clears the closing instant.
func (r Repo) SetClosed(ctx context.Context, id domain.TaskID, at *time.Time) error {
	args := append([]any{nullableTime(at)}, taskArgs(id)...)
	return mustAffect(r.q().ExecContext(ctx, `UPDATE tasks SET closed_at=? WHERE `+taskKey, args...))
}

// TaskFilter narrows task listings. Zero fields match everything.
type TaskFilter struct {
	Project    *domain.ProjectID
	Assignee   string
	Role       string
	Unassigned bool
	// OpenOnly drops closed tasks.
	OpenOnly bool
	// OverdueAt keeps assigned open tasks whose deadline is before it.
	OverdueAt *time.Time
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	var w where
	if f.Project != nil {
		w.add("repo_fullname=? AND provider=?", f.Project.RepoFullName, f.Project.Provider)
	}
	if f.Assignee != "" {
		w.add("assignee=?", f.Assignee)
	}
	if f.Role != "" {
		w.add("role=?", f.Role)
	}
	if f.Unassigned {
		w.add("assignee IS NULL")
	}
	if f.OpenOnly || f.Unassigned || f.OverdueAt != nil {
		w.add("closed_at IS NULL")
	}
	if f.OverdueAt != nil {
		w.add("assignee IS NOT NULL AND deadline IS NOT NULL AND deadline < ?", formatTime(*f.OverdueAt))
	}
	var rows []taskRow
	if err := r.q().SelectContext(ctx, &rows, `SELECT `+taskCols+` FROM tasks`+w.sql()+` ORDER BY repo_fullname, provider, created_at, issue_id`, w.args...); err != nil {
		return nil, classify(err)
	}
	res := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}
