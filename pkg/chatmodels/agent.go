package chatmodels

// Agent is a named assistant persona a user can address directly or
// delegate a sub-task to. Role is a free-form label ("researcher",
// "reviewer") used by delegate_to_team_member_by_role.
type Agent struct {
	ID           string `json:"id"`
	OwnerUserID  uint64 `json:"owner_user_id"`
	Name         string `json:"name"`
	Role         string `json:"role,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model,omitempty"`
}

// OwnedBy reports whether user owns this agent.
func (a *Agent) OwnedBy(user *User) bool {
	return a != nil && user != nil && a.OwnerUserID == user.ID
}
