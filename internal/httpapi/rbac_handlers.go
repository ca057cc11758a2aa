package httpapi

import (
	"net/http"
	"strings"

	"guardia.org/internal/rbac"
)

// Resource/action pair guarding the administration endpoints. The access
// decision, and its audit trail, run through the same engine the check
// endpoint exposes.
const (
	adminResource = "rbac"
	adminAction   = "manage"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type roleResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

type permissionResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

type assignPermissionRequest struct {
	Permission string `json:"permission"`
}

type accessCheckRequest struct {
	Resource   string         `json:"resource"`
	Action     string         `json:"action"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type accessCheckResponse struct {
	Allowed bool `json:"allowed"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handleCreateRole(w, r)
	case http.MethodGet:
		a.handleListRoles(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, adminResource, adminAction)
	if !ok {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.access.CreateRole(r.Context(), req.Name, req.Description, principal.UserID, principal.Username)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoleResponse(role))
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, adminResource, adminAction); !ok {
		return
	}
	roles, err := a.roles.List(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handleCreatePermission(w, r)
	case http.MethodGet:
		a.handleListPermissions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.authorize(w, r, adminResource, adminAction)
	if !ok {
		return
	}
	var req createPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.access.CreatePermission(r.Context(), req.Name, req.Resource, req.Action, req.Description, principal.UserID, principal.Username)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPermissionResponse(perm))
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, adminResource, adminAction); !ok {
		return
	}
	perms, err := a.permissions.List(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, perm := range perms {
		out = append(out, toPermissionResponse(perm))
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": out})
}

// handleRoleScoped routes /v1/rbac/roles/{name}/permissions[/{permission}].
func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/rbac/roles/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	roleName := parts[0]
	switch {
	case len(parts) == 2:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.handleAssignPermission(w, r, roleName)
	case len(parts) == 3:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.handleRemovePermission(w, r, roleName, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleAssignPermission(w http.ResponseWriter, r *http.Request, roleName string) {
	principal, ok := a.authorize(w, r, adminResource, adminAction)
	if !ok {
		return
	}
	var req assignPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Permission = strings.TrimSpace(req.Permission)
	if req.Permission == "" {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}
	if err := a.access.AssignPermissionToRole(r.Context(), roleName, req.Permission, principal.UserID, principal.Username); err != nil {
		handleRBACError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRemovePermission(w http.ResponseWriter, r *http.Request, roleName, permissionName string) {
	principal, ok := a.authorize(w, r, adminResource, adminAction)
	if !ok {
		return
	}
	if err := a.access.RemovePermissionFromRole(r.Context(), roleName, permissionName, principal.UserID, principal.Username); err != nil {
		handleRBACError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var req accessCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Resource = strings.TrimSpace(req.Resource)
	req.Action = strings.TrimSpace(req.Action)
	if req.Resource == "" || req.Action == "" {
		writeError(w, r, http.StatusBadRequest, "resource and action are required")
		return
	}

	pctx := rbac.NewPolicyContext(principal.UserID, principal.Roles, req.Resource, req.Action, clientIP(r), req.Attributes)
	allowed, err := a.access.HasAccess(r.Context(), principal.UserID, principal.Username, req.Resource, req.Action, pctx)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "access decision failed")
		return
	}
	writeJSON(w, http.StatusOK, accessCheckResponse{Allowed: allowed})
}

func toRoleResponse(role *rbac.Role) roleResponse {
	perms := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		perms = append(perms, p.FullPermission())
	}
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Permissions: perms,
	}
}

func toPermissionResponse(p *rbac.Permission) permissionResponse {
	return permissionResponse{
		ID:          p.ID,
		Name:        p.Name,
		Resource:    p.Resource,
		Action:      p.Action,
		Description: p.Description,
	}
}
