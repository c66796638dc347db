package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stefando/mediaupload/internal/upload"
)

const (
	msgInvalidBody  = "Invalid request body"
	msgPartTooLarge = "Part exceeds the maximum allowed size"
)

// completeBody keeps parts raw so its shape can be checked before decoding.
type completeBody struct {
	UploadID string          `json:"uploadId"`
	Key      string          `json:"key"`
	Parts    json.RawMessage `json:"parts"`
}

// handleInit opens a new upload session
func (h *handler) handleInit(w http.ResponseWriter, r *http.Request) {
	var req upload.InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug("invalid init body", "err", err)
		writeBadRequest(w, msgInvalidBody)
		return
	}

	resp, err := h.svc.Init(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePart streams one part body to the store
func (h *handler) handlePart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := upload.PartRequest{
		UploadID:      q.Get("uploadId"),
		Key:           q.Get("key"),
		ContentLength: r.ContentLength,
	}

	// missing ids are reported by the service, so only parse the number
	// once they are present
	if req.UploadID != "" && req.Key != "" {
		n, err := upload.ParsePartNumber(q.Get("partNumber"))
		if err != nil {
			writeError(w, err)
			return
		}
		req.PartNumber = n
	}

	if h.maxPartBytes > 0 {
		if r.ContentLength > h.maxPartBytes {
			writeBadRequest(w, msgPartTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxPartBytes)
	}
	req.Body = r.Body

	resp, err := h.svc.UploadPart(r.Context(), req)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("part body over limit", "upload_id", req.UploadID, "limit", tooLarge.Limit)
			writeBadRequest(w, msgPartTooLarge)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleComplete assembles the object from the submitted manifest
func (h *handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body completeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Debug("invalid complete body", "err", err)
		writeBadRequest(w, msgInvalidBody)
		return
	}

	req := upload.CompleteRequest{UploadID: body.UploadID, Key: body.Key}
	if req.UploadID != "" && req.Key != "" {
		parts, err := upload.DecodeParts(body.Parts)
		if err != nil {
			writeError(w, err)
			return
		}
		req.Parts = parts
	}

	resp, err := h.svc.Complete(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAbort discards an upload session
func (h *handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.svc.Abort(r.Context(), upload.AbortRequest{
		UploadID: q.Get("uploadId"),
		Key:      q.Get("key"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.ListFiles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (h *handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *handler) handleParts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	parts, err := h.svc.ListParts(r.Context(), upload.Session{
		UploadID: q.Get("uploadId"),
		Key:      q.Get("key"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"parts": parts})
}
