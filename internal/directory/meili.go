package directory

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"tempora/api/internal/mention"
	"tempora/api/internal/rbac"
)

const idxUsers = "tempora_users"

// Meili serves directory lookups from a Meilisearch users index.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the users index.
// An unreachable server is tolerated; the health loop keeps probing and
// reconfigures the index on recovery.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("directory: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxUsers,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("directory: create index %s (may already exist): %v", idxUsers, err)
	}

	index := m.client.Index(idxUsers)
	filterable := []interface{}{"tenantId", "active", "role"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("directory: update filterable attrs: %v", err)
	}
	searchable := []string{"name", "email"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("directory: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("directory: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// SearchUsers queries the users index. Only active users are returned;
// a tenant filter keeps untenanted users visible.
func (m *Meili) SearchUsers(q Query) ([]mention.Candidate, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 50
	}

	request := &meili.SearchRequest{
		Limit:  limit,
		Filter: buildFilter(q.TenantID),
	}
	response, err := m.client.Index(idxUsers).Search(q.Text, request)
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch users search: %w", err)
	}

	candidates := make([]mention.Candidate, 0, len(response.Hits))
	for _, hit := range response.Hits {
		candidates = append(candidates, hitToCandidate(hit))
	}
	return candidates, nil
}

func buildFilter(tenantID string) []string {
	filters := []string{"active = true"}
	if tenantID != "" {
		filters = append(filters, fmt.Sprintf("tenantId = %q OR tenantId IS EMPTY", tenantID))
	}
	return filters
}

func hitToCandidate(hit meili.Hit) mention.Candidate {
	return mention.Candidate{
		ID:    decodeString(hit, "id"),
		Name:  decodeString(hit, "name"),
		Email: decodeString(hit, "email"),
		Role:  rbac.Normalize(decodeString(hit, "role")),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexUser adds or updates one user in the index.
func (m *Meili) IndexUser(user UserRecord) error {
	_, err := m.client.Index(idxUsers).AddDocuments([]UserRecord{user}, nil)
	return err
}

// IndexUsers bulk-indexes users.
func (m *Meili) IndexUsers(users []UserRecord) error {
	if len(users) == 0 {
		return nil
	}
	_, err := m.client.Index(idxUsers).AddDocuments(users, nil)
	return err
}

// DeleteUser removes a user from the index.
func (m *Meili) DeleteUser(userID string) error {
	_, err := m.client.Index(idxUsers).DeleteDocument(userID, nil)
	return err
}
