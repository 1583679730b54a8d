package auth

import (
	"encoding/json"
	"sort"
	"strings"

	"threatlens/internal/apperrors"
)

// Predefined roles
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
)

// Principal is the authenticated caller. It is derived from a credential on
// every request and never persisted.
type Principal struct {
	ID    string
	Email string
	roles map[string]struct{}
}

// NewPrincipal builds a principal holding the given roles.
func NewPrincipal(id, email string, roles ...string) *Principal {
	p := &Principal{ID: id, Email: email, roles: make(map[string]struct{}, len(roles))}
	for _, role := range roles {
		if role = strings.TrimSpace(role); role != "" {
			p.roles[role] = struct{}{}
		}
	}
	return p
}

func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	_, ok := p.roles[role]
	return ok
}

// Roles returns the role set sorted by name.
func (p *Principal) Roles() []string {
	roles := make([]string, 0, len(p.roles))
	for role := range p.roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

func (p *Principal) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID    string   `json:"id"`
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	}{p.ID, p.Email, p.Roles()})
}

// Verifier decodes a credential and checks its signature and expiry.
type Verifier interface {
	Verify(credential string) (*Principal, error)
}

// Guard gates operations by role.
type Guard struct {
	verifier Verifier
}

func NewGuard(verifier Verifier) *Guard {
	return &Guard{verifier: verifier}
}

// Authorize resolves credential to a principal holding requiredRole.
// An empty requiredRole only requires a valid credential.
func (g *Guard) Authorize(credential, requiredRole string) (*Principal, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, apperrors.New(apperrors.KindUnauthorized, "credential required")
	}

	principal, err := g.verifier.Verify(credential)
	if err != nil {
		if apperrors.Is(err, apperrors.KindInvalidToken) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.KindInvalidToken, err, "invalid credential")
	}

	if requiredRole != "" && !principal.HasRole(requiredRole) {
		return nil, apperrors.New(apperrors.KindForbidden, "role %q required", requiredRole)
	}
	return principal, nil
}

// BearerToken extracts the credential from an Authorization header value.
// Anything that is not a bearer credential yields an empty string.
func BearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
