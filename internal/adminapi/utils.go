package adminapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	dErrors "realmauth/pkg/domainerrors"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func userIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "userID"))
}

// decode reads a JSON body into dst and validates its tags.
func (a *App) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed JSON body")
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return dErrors.Wrap(err, dErrors.CodeValidation, "invalid "+strings.Join(fields, ", "))
		}
		return dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	}
	return nil
}
