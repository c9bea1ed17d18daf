// Package directory serves user lookups for mention suggestions and
// admin screens. Meilisearch answers when it is healthy; Postgres is
// the fallback and the source of truth for reindexing.
package directory

import (
	"context"
	"log"

	"tempora/api/internal/mention"
)

// UserRecord is the data indexed per user.
type UserRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	TenantID string `json:"tenantId"`
	Active   bool   `json:"active"`
}

// Query describes a directory lookup. An empty TenantID means no tenant
// filter and is only ever passed for Root actors.
type Query struct {
	Text     string
	TenantID string
	Limit    int
}

// Service is the facade that tries Meilisearch first and falls back to
// Postgres.
type Service struct {
	meili *Meili
	pg    *Postgres
}

// NewService creates a directory service. meili may be nil when
// Meilisearch is not configured.
func NewService(meili *Meili, pg *Postgres) *Service {
	return &Service{meili: meili, pg: pg}
}

// SearchUsers finds active users matching the query text within the
// tenant scope.
func (s *Service) SearchUsers(ctx context.Context, q Query) ([]mention.Candidate, error) {
	if s.meili != nil && s.meili.Healthy() {
		candidates, err := s.meili.SearchUsers(q)
		if err == nil {
			return candidates, nil
		}
		log.Printf("directory: meilisearch error, falling back to postgres: %v", err)
	}
	return s.pg.SearchUsers(ctx, q)
}

// ListActiveUsers returns every active user visible under the tenant
// scope, untenanted users included.
func (s *Service) ListActiveUsers(ctx context.Context, tenantID string) ([]mention.Candidate, error) {
	if s.meili != nil && s.meili.Healthy() {
		candidates, err := s.meili.SearchUsers(Query{TenantID: tenantID})
		if err == nil {
			return candidates, nil
		}
		log.Printf("directory: meilisearch error, falling back to postgres: %v", err)
	}
	return s.pg.ListActiveUsers(ctx, tenantID)
}

// IndexUser pushes a user into the search index, fire and forget.
func (s *Service) IndexUser(user UserRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexUser(user); err != nil {
			log.Printf("directory: index user %s: %v", user.ID, err)
		}
	}()
}

// RemoveUser drops a user from the search index, fire and forget.
func (s *Service) RemoveUser(userID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteUser(userID); err != nil {
			log.Printf("directory: delete user %s: %v", userID, err)
		}
	}()
}

// ReindexFromPostgres loads every user row and pushes the set into
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexFromPostgres(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("directory: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexUsers(records); err != nil {
		log.Printf("directory: reindex users: %v", err)
	}
}

var _ mention.Directory = (*Service)(nil)
