package adminapi

import (
	"net/http"
	"strings"

	"realmauth/internal/provisioning"
	"realmauth/pkg/middleware"
	"realmauth/pkg/problems"
)

type addUserRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	AuthID    string `json:"authId" validate:"required,max=128"`
	Role      string `json:"role" validate:"required"`
}

func (a *App) addUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := a.decode(r, &req); err != nil {
		problems.Write(w, r, err)
		return
	}
	rec, _ := middleware.RealmFrom(r.Context())
	out, err := a.prov.AddUserToRealm(r.Context(), rec.Name, provisioning.NewUser{
		Email:     strings.TrimSpace(req.Email),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		AuthID:    req.AuthID,
		CompanyID: rec.CompanyID,
	}, req.Role)
	if err != nil {
		problems.Write(w, r, err)
		return
	}
	writeJSON(w, out, http.StatusCreated)
}

func (a *App) verifyUser(w http.ResponseWriter, r *http.Request) {
	rec, _ := middleware.RealmFrom(r.Context())
	if err := a.prov.VerifyUser(r.Context(), rec.Name, userIDParam(r)); err != nil {
		problems.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	Password string `json:"password" validate:"required,max=256"`
}

func (a *App) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := a.decode(r, &req); err != nil {
		problems.Write(w, r, err)
		return
	}
	p := middleware.PrincipalFrom(r.Context())
	if err := a.prov.ChangePassword(r.Context(), p.RealmName, userIDParam(r), req.Password); err != nil {
		problems.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
