package directory

import (
	"context"
	"database/sql"
	"fmt"

	"tempora/api/internal/mention"
	"tempora/api/internal/rbac"
)

// Postgres answers directory queries straight from the users table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) SearchUsers(ctx context.Context, q Query) ([]mention.Candidate, error) {
	limit := q.Limit
	if limit == 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email, role
		FROM users
		WHERE active
		  AND ($1 = '' OR tenant_id IS NULL OR tenant_id = $1)
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%')
		ORDER BY name
		LIMIT $3
	`, q.TenantID, q.Text, limit)
	if err != nil {
		return nil, fmt.Errorf("directory search: %w", err)
	}
	return scanCandidates(rows)
}

func (p *Postgres) ListActiveUsers(ctx context.Context, tenantID string) ([]mention.Candidate, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email, role
		FROM users
		WHERE active AND ($1 = '' OR tenant_id IS NULL OR tenant_id = $1)
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("directory list: %w", err)
	}
	return scanCandidates(rows)
}

// LoadAllRecords reads every user row for reindexing, inactive users
// included so a later activation only needs an incremental update.
func (p *Postgres) LoadAllRecords(ctx context.Context) ([]UserRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email, role, COALESCE(tenant_id, ''), active
		FROM users
	`)
	if err != nil {
		return nil, fmt.Errorf("directory load all: %w", err)
	}
	defer rows.Close()

	var records []UserRecord
	for rows.Next() {
		var r UserRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Email, &r.Role, &r.TenantID, &r.Active); err != nil {
			return nil, fmt.Errorf("scan user record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanCandidates(rows *sql.Rows) ([]mention.Candidate, error) {
	defer rows.Close()
	var candidates []mention.Candidate
	for rows.Next() {
		var c mention.Candidate
		var role string
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &role); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Role = rbac.Normalize(role)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
