package api

import (
	"encoding/json"
	"net/http"

	apperrors "vendor-onboarding/internal/common/errors"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// respondError maps any error onto the uniform {"error": "..."} body the
// dashboard expects, with the status taken from the error code.
func respondError(w http.ResponseWriter, err error) {
	se := apperrors.AsStandard(err)
	respondJSON(w, se.HTTPStatus(), map[string]string{"error": se.Message})
}
