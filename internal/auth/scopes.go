package auth

import "fmt"

// Scope represents a permission/scope type
type Scope string

const (
	ScopeToolsRead Scope = "tools:read"

	ScopeCredentialsRead  Scope = "credentials:read"
	ScopeCredentialsWrite Scope = "credentials:write"

	// ScopeAdmin is a wildcard granting every scope.
	ScopeAdmin Scope = "admin"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeToolsRead,
		ScopeCredentialsRead,
		ScopeCredentialsWrite,
		ScopeAdmin,
	}
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	valid := make(map[string]bool, len(AllScopes()))
	for _, s := range AllScopes() {
		valid[string(s)] = true
	}
	for _, scope := range scopes {
		if !valid[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}
	return nil
}

// HasScope checks whether granted satisfies required. Admin grants everything
// and write grants read.
func HasScope(granted []string, required Scope) bool {
	for _, scope := range granted {
		switch {
		case scope == string(required), scope == string(ScopeAdmin):
			return true
		case required == ScopeCredentialsRead && scope == string(ScopeCredentialsWrite):
			return true
		}
	}
	return false
}
