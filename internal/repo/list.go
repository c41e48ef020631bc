package repo

import (
	"context"
	"strings"

	"modgate/internal/domain"
)

// query accumulates WHERE clauses and args for the list reads.
type query struct {
	base     string
	clauses  []string
	ordering string
	limits   string
	args     []any
}

func newQuery(base string) *query {
	return &query{base: base}
}

func (q *query) where(clause string, args ...any) {
	q.clauses = append(q.clauses, clause)
	q.args = append(q.args, args...)
}

func (q *query) order(by string) {
	q.ordering = by
}

func (q *query) page(limit, offset int) {
	if limit <= 0 {
		return
	}
	q.limits = " LIMIT ? OFFSET ?"
	q.args = append(q.args, limit, offset)
}

func (q *query) sql() string {
	s := q.base
	if len(q.clauses) > 0 {
		s += " WHERE " + strings.Join(q.clauses, " AND ")
	}
	if q.ordering != "" {
		s += " ORDER BY " + q.ordering
	}
	return s + q.limits
}

// Filter is the query façade input: exact status match plus substring search
// over the designated text field of the entity kind.
type Filter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

func searchPattern(s string) string {
	return "%" + strings.ReplaceAll(strings.ReplaceAll(s, "%", `\%`), "_", `\_`) + "%"
}

func (r Repo) ListProfiles(ctx context.Context, f Filter) ([]domain.Profile, error) {
	q := newQuery(`SELECT ` + profileCols + ` FROM profiles`)
	if f.Status != "" {
		q.where("cached_status=?", f.Status)
	}
	if f.Search != "" {
		q.where(`name LIKE ? ESCAPE '\'`, searchPattern(f.Search))
	}
	q.order("created_at DESC, id DESC")
	q.page(f.Limit, f.Offset)
	rows, err := r.DB.QueryContext(ctx, q.sql(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ListWorkflows(ctx context.Context, f WorkflowFilters) ([]domain.Workflow, error) {
	q := newQuery(`SELECT ` + workflowCols + ` FROM workflows`)
	if f.OwnerProfileID != "" {
		q.where("owner_profile_id=?", f.OwnerProfileID)
	}
	if f.Status != "" {
		q.where("status=?", f.Status)
	}
	if f.Search != "" {
		q.where(`title LIKE ? ESCAPE '\'`, searchPattern(f.Search))
	}
	q.order("created_at DESC, id DESC")
	q.page(f.Limit, f.Offset)
	rows, err := r.DB.QueryContext(ctx, q.sql(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) ListContentItems(ctx context.Context, f ContentFilters) ([]domain.ContentItem, error) {
	q := newQuery(`SELECT ` + contentCols + ` FROM content_items`)
	if f.Kind != "" {
		q.where("kind=?", f.Kind)
	}
	if f.Status != "" {
		q.where("status=?", f.Status)
	}
	if f.Search != "" {
		q.where(`title LIKE ? ESCAPE '\'`, searchPattern(f.Search))
	}
	q.order("created_at DESC, id DESC")
	q.page(f.Limit, f.Offset)
	rows, err := r.DB.QueryContext(ctx, q.sql(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ContentItem
	for rows.Next() {
		c, err := scanContentItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
