package authapi

import (
	"net/http"
	"strings"

	"realmauth/internal/provisioning"
	"realmauth/pkg/middleware"
	"realmauth/pkg/problems"
)

type registerRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	AuthID    string `json:"authId" validate:"required,max=128"`
}

type registerResponse struct {
	provisioning.UserProvisioned
	Message string `json:"message"`
}

func (a *App) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := a.decode(r, &req); err != nil {
		problems.Write(w, r, err)
		return
	}
	out, err := a.registrar.RegisterInSharedRealm(r.Context(), provisioning.NewUser{
		Email:     strings.TrimSpace(req.Email),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		AuthID:    req.AuthID,
	})
	if err != nil {
		problems.Write(w, r, err)
		return
	}
	writeJSON(w, registerResponse{UserProvisioned: out, Message: "user registered in the shared realm"}, http.StatusCreated)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=256"`
	Realm    string `json:"realm" validate:"omitempty,max=50"`
}

func (a *App) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decode(r, &req); err != nil {
		problems.Write(w, r, err)
		return
	}
	s, err := a.sessions.Authenticate(r.Context(), req.Email, req.Password, req.Realm)
	if err != nil {
		problems.Write(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, s, http.StatusOK)
}

type sessionRequest struct {
	Realm        string `json:"realm" validate:"required,max=50"`
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (a *App) refresh(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := a.decode(r, &req); err != nil {
		problems.Write(w, r, err)
		return
	}
	s, err := a.sessions.Refresh(r.Context(), req.Realm, req.RefreshToken)
	if err != nil {
		problems.Write(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, s, http.StatusOK)
}

func (a *App) logout(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := a.decode(r, &req); err != nil {
		problems.Write(w, r, err)
		return
	}
	if err := a.sessions.Logout(r.Context(), req.Realm, req.RefreshToken); err != nil {
		problems.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, middleware.PrincipalFrom(r.Context()), http.StatusOK)
}
