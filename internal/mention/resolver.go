package mention

import (
	"context"

	"tempora/api/internal/rbac"
)

// TeamService is the external team-membership collaborator. It must
// tolerate being called for an actor with no team.
type TeamService interface {
	GetTeamMembers(ctx context.Context, teamID string) ([]Member, error)
	GetTaskMentionableUsers(ctx context.Context, actorID, assigneeID, tenantID string) ([]Candidate, error)
}

// Member is a team membership row as the team service reports it.
type Member struct {
	UserID string    `json:"userId"`
	Role   rbac.Role `json:"role"`
}

// Directory lists active users visible under a tenant scope. An empty
// tenant id means all tenants and is only ever passed for Root actors.
type Directory interface {
	ListActiveUsers(ctx context.Context, tenantID string) ([]Candidate, error)
}

// Resolver computes the mentionable set for an actor/task pair.
type Resolver struct {
	teams     TeamService
	directory Directory
}

func NewResolver(teams TeamService, directory Directory) *Resolver {
	return &Resolver{teams: teams, directory: directory}
}

// Resolve returns the users the actor may mention on the task. Called
// fresh on every suggestion request so role and team changes take effect
// immediately. Lookup failures degrade to a self-only set: partial
// mention capability beats a broken input field.
func (r *Resolver) Resolve(ctx context.Context, actor rbac.Actor, task TaskRef) []Candidate {
	if rbac.Can(actor.Role, rbac.CapManageUsers) || actor.TeamLead {
		scope := actor.TenantID
		if actor.Role == rbac.RoleRoot {
			scope = ""
		}
		candidates, err := r.directory.ListActiveUsers(ctx, scope)
		if err != nil {
			return selfOnly(actor)
		}
		return dedupe(candidates)
	}

	// Non-privileged actors never see the full directory: only the
	// task's assignee and whoever the team service deems a legitimate
	// collaborator for this task.
	candidates, err := r.teams.GetTaskMentionableUsers(ctx, actor.ID, task.AssigneeID, task.TenantID)
	if err != nil {
		return selfOnly(actor)
	}
	return dedupe(candidates)
}

func selfOnly(actor rbac.Actor) []Candidate {
	return []Candidate{{
		ID:    actor.ID,
		Name:  actor.Name,
		Email: actor.Email,
		Role:  actor.Role,
	}}
}

func dedupe(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	unique := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if _, ok := seen[candidate.ID]; ok {
			continue
		}
		seen[candidate.ID] = struct{}{}
		unique = append(unique, candidate)
	}
	return unique
}
