package auth

const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeWorkflowRead  = "workflow:read"
	ScopeWorkflowWrite = "workflow:write"
)

// AllScopes is the full set of scopes the service understands.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeWorkflowRead,
	ScopeWorkflowWrite,
}

// HasScope reports whether the granted scopes include the wanted one.
func HasScope(granted []string, wanted string) bool {
	for _, s := range granted {
		if s == wanted {
			return true
		}
	}
	return false
}
