// Package api provides the REST API and SSE observation server for jeeves.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	jeeveserrors "github.com/jeevesbot/jeeves/internal/errors"
)

// APIError is the standard error response format.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Fix   string `json:"fix,omitempty"`
}

// JSONResponse writes a successful JSON response.
func JSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// JSONError writes a simple error response.
func JSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message})
}

// HandleError inspects the error type and writes the appropriate response.
func HandleError(w http.ResponseWriter, err error) {
	var jerr *jeeveserrors.JeevesError
	if errors.As(err, &jerr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(jerr.HTTPStatus())
		_ = json.NewEncoder(w).Encode(APIError{
			Error: jerr.What,
			Code:  string(jerr.Code),
			Fix:   jerr.Fix,
		})
		return
	}
	JSONError(w, err.Error(), http.StatusInternalServerError)
}
