// SPDX-License-Identifier: Apache-2.0

package workflow

// Node and role names. In team mode the router dispatches through RoleOrder;
// task_view is a synthetic node injected ahead of the engineer.
const (
	NodeInit         = "init"
	NodeRules        = "rule_node"
	NodeEngineerSolo = "engineer_solo"
	NodeTeamRouter   = "team_router"
	NodeTaskView     = "task_view"
	NodeTeamFinalize = "team_finalize"

	RoleTeamLead       = "team_lead"
	RoleSEOExpert      = "seo_expert"
	RoleProductManager = "product_manager"
	RoleArchitect      = "architect"
	RoleEngineer       = "engineer"
	RoleDataAnalyst    = "data_analyst"
	RoleDeepResearcher = "deep_researcher"
)

var defaultTeamRoles = []string{
	RoleTeamLead,
	RoleSEOExpert,
	RoleProductManager,
	RoleArchitect,
	RoleEngineer,
	RoleDataAnalyst,
	RoleDeepResearcher,
}

// TeamRoleOrder computes the effective dispatch order for team mode:
// unknown requested roles are dropped; an empty result falls back to the
// full default order; team_lead always leads; architect and engineer are
// appended when absent so every team run plans and produces code.
func TeamRoleOrder(requested []string) []string {
	allowed := make(map[string]bool, len(defaultTeamRoles))
	for _, r := range defaultTeamRoles {
		allowed[r] = true
	}

	roles := make([]string, 0, len(requested))
	for _, r := range requested {
		if allowed[r] {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		roles = append(roles, defaultTeamRoles...)
	}

	ordered := make([]string, 0, len(roles)+2)
	ordered = append(ordered, RoleTeamLead)
	for _, r := range roles {
		if r != RoleTeamLead {
			ordered = append(ordered, r)
		}
	}
	if !contains(ordered, RoleArchitect) {
		ordered = append(ordered, RoleArchitect)
	}
	if !contains(ordered, RoleEngineer) {
		ordered = append(ordered, RoleEngineer)
	}
	return ordered
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// routeTeamNext is the router shared by the team router and every role node:
// dispatch order[role_index], finalize once the order is exhausted, and slip
// the task_view node in front of the engineer exactly once, guarded by the
// state flag rather than a counter.
func routeTeamNext(st *RunState) string {
	if st.RoleIndex >= len(st.RoleOrder) {
		return NodeTeamFinalize
	}
	next := st.RoleOrder[st.RoleIndex]
	if next == RoleEngineer && st.TaskView == nil {
		return NodeTaskView
	}
	return next
}
