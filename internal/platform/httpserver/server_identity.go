package httpserver

import (
	"errors"
	"net/http"

	identitycommands "steward/contexts/identity/application/commands"
	"steward/contexts/identity/domain/entities"
	identityerrors "steward/contexts/identity/domain/errors"
)

type createUserRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	OrgUnitID string `json:"org_unit_id"`
}

type updateUserRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	OrgUnitID string `json:"org_unit_id"`
}

type updateUserRolesRequest struct {
	RoleIDs []string `json:"role_ids"`
}

type roleRequest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	PermissionCodes []string `json:"permission_codes"`
}

type orgUnitRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type userResponse struct {
	UserID    string             `json:"user_id"`
	Name      string             `json:"name"`
	Email     string             `json:"email"`
	Phone     string             `json:"phone,omitempty"`
	OrgUnitID string             `json:"org_unit_id,omitempty"`
	Roles     []userRoleResponse `json:"roles"`
}

type userRoleResponse struct {
	RoleID   string `json:"role_id"`
	RoleName string `json:"role_name"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.dispatch(r.Context(), w, identitycommands.CreateUserCommand{
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		OrgUnitID: req.OrgUnitID,
	}, http.StatusCreated, nil)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.dispatch(r.Context(), w, identitycommands.UpdateUserCommand{
		UserID:    r.PathValue("user_id"),
		Name:      req.Name,
		Phone:     req.Phone,
		OrgUnitID: req.OrgUnitID,
	}, http.StatusOK, nil)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	s.dispatch(r.Context(), w, identitycommands.DeleteUserCommand{
		UserID: r.PathValue("user_id"),
	}, http.StatusOK, nil)
}

func (s *Server) handleUpdateUserRoles(w http.ResponseWriter, r *http.Request) {
	var req updateUserRolesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.dispatch(r.Context(), w, identitycommands.UpdateUserRolesCommand{
		UserID:  r.PathValue("user_id"),
		RoleIDs: req.RoleIDs,
	}, http.StatusOK, nil)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.getUser.Execute(r.Context(), r.PathValue("user_id"))
	if err != nil {
		if !writeIdentityDomainError(w, err) {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(user))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.listUsers.Execute(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	items := make([]userResponse, 0, len(users))
	for _, user := range users {
		items = append(items, userToResponse(user))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": items})
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.dispatch(r.Context(), w, identitycommands.CreateRoleCommand{
		Name:            req.Name,
		Description:     req.Description,
		PermissionCodes: req.PermissionCodes,
	}, http.StatusCreated, nil)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.dispatch(r.Context(), w, identitycommands.UpdateRoleCommand{
		RoleID:          r.PathValue("role_id"),
		Name:            req.Name,
		Description:     req.Description,
		PermissionCodes: req.PermissionCodes,
	}, http.StatusOK, nil)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.listRoles.Execute(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (s *Server) handleCreateOrgUnit(w http.ResponseWriter, r *http.Request) {
	var req orgUnitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.dispatch(r.Context(), w, identitycommands.CreateOrganizationUnitCommand{
		Name:     req.Name,
		ParentID: req.ParentID,
	}, http.StatusCreated, nil)
}

func (s *Server) handleUpdateOrgUnit(w http.ResponseWriter, r *http.Request) {
	var req orgUnitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.dispatch(r.Context(), w, identitycommands.UpdateOrganizationUnitCommand{
		OrgUnitID: r.PathValue("org_unit_id"),
		Name:      req.Name,
		ParentID:  req.ParentID,
	}, http.StatusOK, nil)
}

func (s *Server) handleListOrgUnits(w http.ResponseWriter, r *http.Request) {
	units, err := s.listOrgUnits.Execute(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"org_units": units})
}

func userToResponse(user entities.User) userResponse {
	roles := make([]userRoleResponse, 0, len(user.Roles))
	for _, role := range user.Roles {
		roles = append(roles, userRoleResponse{RoleID: role.RoleID, RoleName: role.RoleName})
	}
	return userResponse{
		UserID:    user.UserID,
		Name:      user.Name,
		Email:     user.Email,
		Phone:     user.Phone,
		OrgUnitID: user.OrgUnitID,
		Roles:     roles,
	}
}

func writeIdentityDomainError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, identityerrors.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, identityerrors.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, identityerrors.ErrRoleNotFound):
		writeError(w, http.StatusNotFound, "role_not_found", err.Error())
	case errors.Is(err, identityerrors.ErrRoleNameTaken):
		writeError(w, http.StatusConflict, "role_name_taken", err.Error())
	case errors.Is(err, identityerrors.ErrOrgUnitNotFound):
		writeError(w, http.StatusNotFound, "org_unit_not_found", err.Error())
	case errors.Is(err, identityerrors.ErrOrgUnitCycle):
		writeError(w, http.StatusUnprocessableEntity, "org_unit_cycle", err.Error())
	case errors.Is(err, identityerrors.ErrUnknownRoleAssigned):
		writeError(w, http.StatusUnprocessableEntity, "unknown_role", err.Error())
	default:
		return false
	}
	return true
}
