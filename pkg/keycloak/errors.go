package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Nerzal/gocloak/v13"

	dErrors "realmauth/pkg/domainerrors"
)

// StatusCode returns the HTTP status gocloak attached to err. Zero means the
// request never produced a response.
func StatusCode(err error) int {
	code, _ := statusOf(err)
	return code
}

func statusOf(err error) (int, string) {
	var p *gocloak.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code, p.Message
	}
	return 0, ""
}

// translate maps an admin API failure onto the domain taxonomy.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, op+": identity provider timed out")
	}
	code, msg := statusOf(err)
	detail := fmt.Sprintf("%s: %s", op, msg)
	switch {
	case code == 0:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, op+": identity provider unreachable")
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return dErrors.Wrap(err, dErrors.CodeAdminUnauthenticated, detail)
	case code == http.StatusConflict:
		return dErrors.Wrap(err, dErrors.CodeConflict, detail)
	case code == http.StatusNotFound:
		return dErrors.Wrap(err, dErrors.CodeNotFound, detail)
	case code == http.StatusBadRequest:
		return dErrors.Wrap(err, dErrors.CodeValidation, detail)
	case code >= 500:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, detail)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, detail)
	}
}

// translateLogin treats any 4xx from the admin token endpoint as bad
// administrator credentials.
func translateLogin(err error) error {
	code, _ := statusOf(err)
	if code >= 400 && code < 500 {
		return dErrors.Wrap(err, dErrors.CodeAdminUnauthenticated, "administrator login rejected")
	}
	return translate(err, "administrator login")
}
