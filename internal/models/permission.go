package models

import (
	"fmt"
	"sort"
	"time"
)

// PermissionKind is a closed set of permission codenames. Values outside the
// set cannot be granted; use ParsePermission to convert untrusted input.
type PermissionKind string

// Scope is the type of object a permission kind applies to.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeProject   Scope = "project"
	ScopeUserStory Scope = "user_story"
)

const (
	PermListAllProjects PermissionKind = "list_all_projects"
	PermViewProject     PermissionKind = "view_project"
	PermApproveProject  PermissionKind = "aprobar_proyecto"

	PermCreateSprint PermissionKind = "create_sprint"
	PermEditSprint   PermissionKind = "edit_sprint"
	PermRemoveSprint PermissionKind = "remove_sprint"

	PermCreateFlow PermissionKind = "create_flujo"
	PermEditFlow   PermissionKind = "edit_flujo"
	PermRemoveFlow PermissionKind = "remove_flujo"

	PermCreateUserStory     PermissionKind = "create_userstory"
	PermEditUserStory       PermissionKind = "edit_userstory"
	PermRemoveUserStory     PermissionKind = "remove_userstory"
	PermPrioritizeUserStory PermissionKind = "prioritize_userstory"
	PermRegisterActivity    PermissionKind = "registraractividad_userstory"
	PermApproveUserStory    PermissionKind = "aprobar_userstory"
	PermCancelUserStory     PermissionKind = "cancelar_userstory"

	PermEditMyUserStory    PermissionKind = "edit_my_userstory"
	PermRegisterMyActivity PermissionKind = "registraractividad_my_userstory"

	PermAddFlowTemplate    PermissionKind = "add_flow_template"
	PermChangeFlowTemplate PermissionKind = "change_flow_template"
	PermDeleteFlowTemplate PermissionKind = "delete_flow_template"
)

var permissionScopes = map[PermissionKind]Scope{
	PermListAllProjects: ScopeGlobal,
	PermViewProject:     ScopeProject,
	PermApproveProject:  ScopeProject,

	PermCreateSprint: ScopeProject,
	PermEditSprint:   ScopeProject,
	PermRemoveSprint: ScopeProject,

	PermCreateFlow: ScopeProject,
	PermEditFlow:   ScopeProject,
	PermRemoveFlow: ScopeProject,

	PermCreateUserStory:     ScopeProject,
	PermEditUserStory:       ScopeProject,
	PermRemoveUserStory:     ScopeProject,
	PermPrioritizeUserStory: ScopeProject,
	PermRegisterActivity:    ScopeProject,
	PermApproveUserStory:    ScopeProject,
	PermCancelUserStory:     ScopeProject,

	PermEditMyUserStory:    ScopeUserStory,
	PermRegisterMyActivity: ScopeUserStory,

	PermAddFlowTemplate:    ScopeGlobal,
	PermChangeFlowTemplate: ScopeGlobal,
	PermDeleteFlowTemplate: ScopeGlobal,
}

// ParsePermission converts a codename into a PermissionKind.
func ParsePermission(s string) (PermissionKind, error) {
	k := PermissionKind(s)
	if _, ok := permissionScopes[k]; !ok {
		return "", fmt.Errorf("unknown permission: %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known permission kinds.
func (k PermissionKind) Valid() bool {
	_, ok := permissionScopes[k]
	return ok
}

// Scope returns the object type the permission applies to.
func (k PermissionKind) Scope() Scope {
	return permissionScopes[k]
}

// AllPermissions returns every known permission kind, sorted by codename.
func AllPermissions() []PermissionKind {
	out := make([]PermissionKind, 0, len(permissionScopes))
	for k := range permissionScopes {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PermissionsInScope returns the known kinds whose scope is s, sorted by codename.
func PermissionsInScope(s Scope) []PermissionKind {
	var out []PermissionKind
	for _, k := range AllPermissions() {
		if k.Scope() == s {
			out = append(out, k)
		}
	}
	return out
}

// ObjectRef identifies the object a grant applies to.
type ObjectRef struct {
	Type Scope
	ID   string
}

// GlobalObject is the object used for permissions that are not tied to a project or story.
var GlobalObject = ObjectRef{Type: ScopeGlobal}

// ProjectObject returns a reference to a project.
func ProjectObject(id string) ObjectRef { return ObjectRef{Type: ScopeProject, ID: id} }

// StoryObject returns a reference to a user story.
func StoryObject(id string) ObjectRef { return ObjectRef{Type: ScopeUserStory, ID: id} }

func (o ObjectRef) String() string {
	if o.ID == "" {
		return string(o.Type)
	}
	return string(o.Type) + ":" + o.ID
}

// Grant is a single (subject, object, permission) entry of the ledger.
type Grant struct {
	SubjectID string
	Object    ObjectRef
	Kind      PermissionKind
	CreatedAt time.Time
}
