// Package team answers membership questions against Postgres. The
// mention resolver treats it as an external collaborator and degrades
// gracefully when a query fails.
package team

import (
	"context"
	"database/sql"
	"fmt"

	"tempora/api/internal/mention"
	"tempora/api/internal/rbac"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) GetTeamMembers(ctx context.Context, teamID string) ([]mention.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.role
		FROM users u
		WHERE u.team_id = $1 AND u.active
		ORDER BY u.name
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("team members: %w", err)
	}
	defer rows.Close()

	var members []mention.Member
	for rows.Next() {
		var m mention.Member
		var role string
		if err := rows.Scan(&m.UserID, &role); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		m.Role = rbac.Normalize(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetTaskMentionableUsers returns the actor, the task assignee and
// every active member of the teams they belong to, restricted to the
// task's tenant. Users without a team still resolve themselves and the
// assignee.
func (s *Service) GetTaskMentionableUsers(ctx context.Context, actorID, assigneeID, tenantID string) ([]mention.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.id, u.name, u.email, u.role
		FROM users u
		WHERE u.active
		  AND ($3 = '' OR u.tenant_id IS NULL OR u.tenant_id = $3)
		  AND (
		        u.id = $1
		     OR u.id = $2
		     OR (u.team_id IS NOT NULL AND u.team_id IN (
		            SELECT team_id FROM users
		            WHERE id IN ($1, $2) AND team_id IS NOT NULL
		        ))
		  )
		ORDER BY u.name
	`, actorID, assigneeID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("task mentionable users: %w", err)
	}
	defer rows.Close()

	var candidates []mention.Candidate
	for rows.Next() {
		var c mention.Candidate
		var role string
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &role); err != nil {
			return nil, fmt.Errorf("scan mentionable user: %w", err)
		}
		c.Role = rbac.Normalize(role)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

var _ mention.TeamService = (*Service)(nil)
