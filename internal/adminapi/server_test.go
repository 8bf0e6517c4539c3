package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"realmauth/internal/provisioning"
	dErrors "realmauth/pkg/domainerrors"
	"realmauth/pkg/keycloak"
	kt "realmauth/pkg/keycloak/keycloaktest"
	"realmauth/pkg/metrics"
	"realmauth/pkg/problems"
	"realmauth/pkg/secret"
	"realmauth/pkg/tenants"
	"realmauth/pkg/tokens"
)

// principals maps bearer tokens to principals.
type principals struct {
	mu sync.Mutex
	m  map[string]*tokens.Principal
}

func (p *principals) set(tok string, pr *tokens.Principal) {
	p.mu.Lock()
	p.m[tok] = pr
	p.mu.Unlock()
}

func (p *principals) Validate(_ context.Context, raw string) (*tokens.Principal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr, ok := p.m[raw]; ok {
		return pr, nil
	}
	return nil, dErrors.New(dErrors.CodeUnauthorized, "token rejected")
}

type AdminAPISuite struct {
	suite.Suite
	idp    *kt.Fake
	store  *tenants.MemoryStore
	tokens *principals
	srv    *httptest.Server
}

func TestAdminAPISuite(t *testing.T) {
	suite.Run(t, new(AdminAPISuite))
}

func (s *AdminAPISuite) SetupTest() {
	s.idp = kt.New()
	s.idp.AddRealm("ally", "user")
	s.store = tenants.NewMemoryStore(nil)
	sealer := secret.NewSealer("admin-test-key")
	reg := prometheus.NewRegistry()
	prov := provisioning.New(provisioning.Config{SharedRealm: "ally"}, s.idp, s.store, s.store, sealer, metrics.New(reg), nil)
	s.tokens = &principals{m: map[string]*tokens.Principal{
		"newcomer": {Subject: "shared-1", RealmName: "ally", Roles: []string{"user"}},
	}}
	app := New(Config{IssuerBase: "https://idp.test", ServeOpenAPI: true, CORSOrigins: []string{"https://app.test"}}, nil, prov, s.store, sealer, s.tokens, reg)
	s.srv = httptest.NewServer(app.Handler())
	s.T().Cleanup(s.srv.Close)
}

func (s *AdminAPISuite) do(method, path, token, body string) *http.Response {
	req, err := http.NewRequest(method, s.srv.URL+path, bytes.NewBufferString(body))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *AdminAPISuite) decode(resp *http.Response, dst any) {
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(dst))
}

func (s *AdminAPISuite) code(resp *http.Response) string {
	var p problems.Problem
	s.decode(resp, &p)
	return p.Code
}

const acmeBody = `{"companyId":"c-1","companyName":"Acme Inc","ownerEmail":"ana@acme.test","ownerFirstName":"Ana","ownerLastName":"Lima","ownerAuthId":"auth-1"}`

// provisionAcme creates the acme-inc realm and registers an Admin token for
// its owner.
func (s *AdminAPISuite) provisionAcme() string {
	resp := s.do(http.MethodPost, "/admin/companies", "newcomer", acmeBody)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var out map[string]any
	s.decode(resp, &out)
	ownerID := out["userId"].(string)
	s.tokens.set("owner", &tokens.Principal{Subject: ownerID, RealmName: "acme-inc", CompanyID: "c-1", Roles: []string{"Admin"}})
	return ownerID
}

func (s *AdminAPISuite) TestCreateCompany() {
	resp := s.do(http.MethodPost, "/admin/companies", "newcomer", acmeBody)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var out map[string]any
	s.decode(resp, &out)
	s.Equal("acme-inc", out["realmName"])
	s.Equal("https://idp.test/realms/acme-inc", out["realmUrl"])
	s.Equal("acme-inc-api", out["apiClientId"])
	s.Len(out["temporaryPassword"], 12)

	resp = s.do(http.MethodPost, "/admin/companies", "newcomer", acmeBody)
	s.Equal(http.StatusConflict, resp.StatusCode)
	s.Equal("conflict", s.code(resp))
}

func (s *AdminAPISuite) TestCreateCompanyRequiresBearer() {
	resp := s.do(http.MethodPost, "/admin/companies", "", acmeBody)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Empty(s.idp.Calls)
}

func (s *AdminAPISuite) TestCreateCompanyValidation() {
	resp := s.do(http.MethodPost, "/admin/companies", "newcomer", `{"companyName":"Acme Inc"}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	var p problems.Problem
	s.decode(resp, &p)
	s.Equal("validation_failed", p.Code)
	s.Contains(p.Detail, "companyId (required)")
	s.Empty(s.idp.Calls)
}

func (s *AdminAPISuite) TestCreateCompanyAdminLoginRejected() {
	s.idp.FailOn[kt.OpRealmExists] = dErrors.New(dErrors.CodeAdminUnauthenticated, "admin login rejected")
	resp := s.do(http.MethodPost, "/admin/companies", "newcomer", acmeBody)
	s.Equal(http.StatusBadGateway, resp.StatusCode)
	s.Equal("admin_unauthenticated", s.code(resp))
}

func (s *AdminAPISuite) TestRealmAndClientCredentials() {
	s.provisionAcme()

	resp := s.do(http.MethodGet, "/admin/realm", "owner", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var rec map[string]any
	s.decode(resp, &rec)
	s.Equal("acme-inc", rec["name"])
	s.Equal("ready", rec["status"])
	s.NotContains(rec, "SealedClientSecret")

	resp = s.do(http.MethodGet, "/admin/realm/client", "owner", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var creds map[string]string
	s.decode(resp, &creds)
	s.Equal("acme-inc-api", creds["clientId"])
	s.Equal("https://idp.test/realms/acme-inc/protocol/openid-connect/token", creds["tokenUrl"])

	var idpSecret string
	for _, c := range s.idp.Realm("acme-inc").Clients {
		if !c.Public {
			idpSecret = c.Secret
		}
	}
	s.Equal(idpSecret, creds["clientSecret"], "the unsealed secret is the one the client was created with")
}

func (s *AdminAPISuite) TestRealmRoutesRequireAdmin() {
	s.provisionAcme()
	s.tokens.set("employee", &tokens.Principal{Subject: "emp-1", RealmName: "acme-inc", Roles: []string{"Employee"}})

	s.Equal(http.StatusForbidden, s.do(http.MethodGet, "/admin/realm", "employee", "").StatusCode)
	s.Equal(http.StatusForbidden, s.do(http.MethodGet, "/admin/realm/client", "employee", "").StatusCode)

	s.tokens.set("stray-admin", &tokens.Principal{Subject: "x", RealmName: "globex", Roles: []string{"Admin"}})
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/admin/realm", "stray-admin", "").StatusCode)
}

func (s *AdminAPISuite) TestAddAndVerifyUser() {
	s.provisionAcme()

	body := `{"email":"bo@acme.test","firstName":"Bo","lastName":"Li","authId":"auth-2","role":"Accountant"}`
	resp := s.do(http.MethodPost, "/admin/realm/users", "owner", body)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var out provisioning.UserProvisioned
	s.decode(resp, &out)
	s.Equal("acme-inc", out.RealmName)
	s.Equal("Accountant", out.Role)

	u := s.idp.Realm("acme-inc").Users[out.UserID]
	s.Require().NotNil(u)
	s.Equal("c-1", u.Spec.CompanyID)
	s.Equal([]string{"Accountant"}, u.Roles)

	resp = s.do(http.MethodPost, "/admin/realm/users", "owner", body)
	s.Equal(http.StatusConflict, resp.StatusCode)

	resp = s.do(http.MethodPost, "/admin/realm/users/"+out.UserID+"/verify", "owner", "")
	s.Equal(http.StatusNoContent, resp.StatusCode)
	s.True(s.idp.Realm("acme-inc").Users[out.UserID].EmailVerified)
}

func (s *AdminAPISuite) TestAddUserRejectsUnknownRole() {
	s.provisionAcme()
	resp := s.do(http.MethodPost, "/admin/realm/users", "owner", `{"email":"bo@acme.test","firstName":"Bo","lastName":"Li","authId":"a","role":"Root"}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("validation_failed", s.code(resp))
	s.Equal(1, s.idp.Count(kt.OpCreateUser), "only the owner was created")
}

func (s *AdminAPISuite) TestChangePassword() {
	ownerID := s.provisionAcme()
	s.tokens.set("employee", &tokens.Principal{Subject: "emp-1", RealmName: "acme-inc", Roles: []string{"Employee"}})

	resp := s.do(http.MethodPut, "/admin/realm/users/"+ownerID+"/password", "employee", `{"password":"a-new-password"}`)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp = s.do(http.MethodPut, "/admin/realm/users/"+ownerID+"/password", "owner", `{"password":"short"}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp = s.do(http.MethodPut, "/admin/realm/users/"+ownerID+"/password", "owner", `{"password":"a-new-password"}`)
	s.Equal(http.StatusNoContent, resp.StatusCode)
	s.Equal("a-new-password", s.idp.Realm("acme-inc").Users[ownerID].Password)
}

func (s *AdminAPISuite) TestSharedRealmUserChangesOwnPassword() {
	id, err := s.idp.CreateUser(context.Background(), "ally", keycloak.UserSpec{Email: "cy@ally.test", TemporaryPassword: "tmp"})
	s.Require().NoError(err)
	s.tokens.set("cy", &tokens.Principal{Subject: id, RealmName: "ally", Roles: []string{"user"}})

	resp := s.do(http.MethodPut, "/admin/realm/users/"+id+"/password", "cy", `{"password":"cy-password-1"}`)
	s.Equal(http.StatusNoContent, resp.StatusCode)
	s.Equal("cy-password-1", s.idp.Realm("ally").Users[id].Password)

	resp = s.do(http.MethodGet, "/admin/realm", "cy", "")
	s.Equal(http.StatusForbidden, resp.StatusCode, "shared realm users have no realm admin routes")
}

func (s *AdminAPISuite) TestCORSPreflight() {
	req, err := http.NewRequest(http.MethodOptions, s.srv.URL+"/admin/companies", nil)
	s.Require().NoError(err)
	req.Header.Set("Origin", "https://app.test")
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusNoContent, resp.StatusCode)
	s.Equal("https://app.test", resp.Header.Get("Access-Control-Allow-Origin"))
}

func (s *AdminAPISuite) TestOpenAPI() {
	resp := s.do(http.MethodGet, "/.well-known/openapi.json", "", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var doc map[string]any
	s.decode(resp, &doc)
	paths := doc["paths"].(map[string]any)
	s.Contains(paths, "/admin/companies")
	s.Contains(paths, "/admin/realm/users/{userID}/password")
}
