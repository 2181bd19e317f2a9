package auth

import (
	"fmt"
	"strings"
)

// Role is the portal role carried by every user.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleDeveloper Role = "DEVELOPER"
	RoleMaster    Role = "MASTER"
)

// Roles lists every recognised role.
var Roles = []Role{RoleAdmin, RoleDeveloper, RoleMaster}

// ParseRole normalises s. Unknown names are returned upper-cased and fail Valid.
func ParseRole(s string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(s)))
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDeveloper, RoleMaster:
		return true
	}
	return false
}

// Reviewer reports whether the role may decide pending projects.
func (r Role) Reviewer() bool {
	return Allows(r, CapApproveRejectProject)
}

// Capability names one class of gated operation.
type Capability string

const (
	CapCreateProject        Capability = "CREATE_PROJECT"
	CapSaveDraft            Capability = "SAVE_DRAFT"
	CapViewOwnProjects      Capability = "VIEW_OWN_PROJECTS"
	CapViewAllProjects      Capability = "VIEW_ALL_PROJECTS"
	CapSearchProjects       Capability = "SEARCH_PROJECTS"
	CapApproveRejectProject Capability = "APPROVE_REJECT_PROJECT"
	CapUsePlayground        Capability = "USE_PLAYGROUND"
)

// AllCapabilities lists capabilities in table order.
var AllCapabilities = []Capability{
	CapCreateProject,
	CapSaveDraft,
	CapViewOwnProjects,
	CapViewAllProjects,
	CapSearchProjects,
	CapApproveRejectProject,
	CapUsePlayground,
}

var policy = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapViewAllProjects:      true,
		CapSearchProjects:       true,
		CapApproveRejectProject: true,
		CapUsePlayground:        true,
	},
	RoleDeveloper: {
		CapCreateProject:   true,
		CapSaveDraft:       true,
		CapViewOwnProjects: true,
		CapUsePlayground:   true,
	},
	RoleMaster: {
		CapCreateProject:        true,
		CapSaveDraft:            true,
		CapViewOwnProjects:      true,
		CapViewAllProjects:      true,
		CapSearchProjects:       true,
		CapApproveRejectProject: true,
		CapUsePlayground:        true,
	},
}

// Allows reports whether role holds capability. Unknown roles and capabilities are denied.
func Allows(role Role, capability Capability) bool {
	return policy[role][capability]
}

// Capabilities returns the capabilities granted to role, in table order.
func Capabilities(role Role) []Capability {
	out := make([]Capability, 0, len(AllCapabilities))
	for _, c := range AllCapabilities {
		if Allows(role, c) {
			out = append(out, c)
		}
	}
	return out
}

// Require returns ErrUnauthorized unless the session's role holds capability.
func Require(s Session, capability Capability) error {
	if !s.Authenticated() {
		return ErrUnauthenticated
	}
	if !Allows(s.Role, capability) {
		return fmt.Errorf("%w: role %s lacks %s", ErrUnauthorized, s.Role, capability)
	}
	return nil
}
