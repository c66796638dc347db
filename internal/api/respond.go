package api

import (
	"encoding/json"
	"net/http"

	"github.com/stefando/mediaupload/internal/upload"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an upload error onto its HTTP status. Only the public
// message is sent; the underlying cause has already been logged.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if upload.IsClientError(err) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{Error: upload.PublicMessage(err)})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message})
}
