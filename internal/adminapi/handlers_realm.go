package adminapi

import (
	"net/http"
	"time"

	dErrors "realmauth/pkg/domainerrors"
	"realmauth/pkg/middleware"
	"realmauth/pkg/problems"
	"realmauth/pkg/tenants"
	"realmauth/pkg/tokens"
)

type realmResponse struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	CompanyID   string         `json:"companyId"`
	Status      tenants.Status `json:"status"`
	FailedStep  string         `json:"failedStep,omitempty"`
	APIClientID string         `json:"apiClientId,omitempty"`
	WebClientID string         `json:"webClientId,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func (a *App) getRealm(w http.ResponseWriter, r *http.Request) {
	rec, _ := middleware.RealmFrom(r.Context())
	writeJSON(w, realmResponse{
		Name:        rec.Name,
		DisplayName: rec.DisplayName,
		CompanyID:   rec.CompanyID,
		Status:      rec.Status,
		FailedStep:  rec.FailedStep,
		APIClientID: rec.APIClientID,
		WebClientID: rec.WebClientID,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, http.StatusOK)
}

func (a *App) getClientCredentials(w http.ResponseWriter, r *http.Request) {
	rec, _ := middleware.RealmFrom(r.Context())
	if rec.APIClientID == "" || len(rec.SealedClientSecret) == 0 {
		problems.Write(w, r, dErrors.New(dErrors.CodeNotFound, "no API client recorded for this realm"))
		return
	}
	plain, err := a.sealer.Open(rec.SealedClientSecret)
	if err != nil {
		a.log.Errorw("client secret unseal failed", "realm", rec.Name, "err", err)
		problems.Write(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, map[string]any{
		"clientId":     rec.APIClientID,
		"clientSecret": string(plain),
		"tokenUrl":     tokens.IssuerFor(a.cfg.IssuerBase, rec.Name) + "/protocol/openid-connect/token",
	}, http.StatusOK)
}
