package adminapi

import (
	"net/http"
	"strings"

	"realmauth/internal/provisioning"
	"realmauth/pkg/middleware"
	"realmauth/pkg/problems"
	"realmauth/pkg/tokens"
)

type createCompanyRequest struct {
	CompanyID      string `json:"companyId" validate:"required,max=64"`
	CompanyName    string `json:"companyName" validate:"required,max=200"`
	OwnerEmail     string `json:"ownerEmail" validate:"required,email,max=254"`
	OwnerFirstName string `json:"ownerFirstName" validate:"required,max=100"`
	OwnerLastName  string `json:"ownerLastName" validate:"required,max=100"`
	OwnerAuthID    string `json:"ownerAuthId" validate:"required,max=128"`
}

type createCompanyResponse struct {
	provisioning.RealmProvisioned
	RealmURL string `json:"realmUrl"`
	Message  string `json:"message"`
}

func (a *App) createCompany(w http.ResponseWriter, r *http.Request) {
	var req createCompanyRequest
	if err := a.decode(r, &req); err != nil {
		problems.Write(w, r, err)
		return
	}
	a.log.Infow("company realm requested", "company_id", req.CompanyID, "actor", middleware.ActorSub(r.Context()))
	out, err := a.prov.ProvisionCompanyRealm(r.Context(),
		provisioning.Company{ID: req.CompanyID, Name: req.CompanyName},
		provisioning.NewUser{
			Email:     strings.TrimSpace(req.OwnerEmail),
			FirstName: req.OwnerFirstName,
			LastName:  req.OwnerLastName,
			AuthID:    req.OwnerAuthID,
			CompanyID: req.CompanyID,
		})
	if err != nil {
		problems.Write(w, r, err)
		return
	}
	writeJSON(w, createCompanyResponse{
		RealmProvisioned: out,
		RealmURL:         tokens.IssuerFor(a.cfg.IssuerBase, out.RealmName),
		Message:          "realm created with owner account",
	}, http.StatusCreated)
}
