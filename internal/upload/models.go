package upload

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"
)

// Session identifies one multipart upload at the object store.
type Session struct {
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

// Receipt is what the store hands back for one stored part.
type Receipt struct {
	ETag       string `json:"ETag"`
	PartNumber int32  `json:"PartNumber"`
}

// InitRequest starts a new upload session.
type InitRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
}

// InitResponse carries the identity of the new session.
type InitResponse struct {
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

// PartRequest uploads one part. Body is forwarded to the store as is;
// ContentLength is its size in bytes.
type PartRequest struct {
	UploadID      string
	Key           string
	PartNumber    int32
	Body          io.Reader
	ContentLength int64
}

// PartResponse is the receipt for an uploaded part.
type PartResponse = Receipt

// CompleteRequest finalizes a session from the caller's manifest.
type CompleteRequest struct {
	UploadID string    `json:"uploadId"`
	Key      string    `json:"key"`
	Parts    []Receipt `json:"parts"`
}

// CompleteResponse points at the assembled object.
type CompleteResponse struct {
	Location string `json:"location"`
	Key      string `json:"key"`
}

// AbortRequest discards a session.
type AbortRequest struct {
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

// AbortResponse confirms an abort.
type AbortResponse struct {
	Message string `json:"message"`
}

// FileInfo describes a finished object.
type FileInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ETag         string    `json:"etag"`
}

// OpenSession describes a multipart upload that was neither completed nor aborted.
type OpenSession struct {
	UploadID  string    `json:"uploadId"`
	Key       string    `json:"key"`
	Initiated time.Time `json:"initiated"`
}

// StoredPart is a part the store already holds for an open session.
type StoredPart struct {
	Receipt
	Size int64 `json:"Size"`
}

// ParsePartNumber parses a part number from its textual form. Anything but
// a positive integer is a client error.
func ParsePartNumber(s string) (int32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, clientError(opUploadPart, msgPartParams)
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n < 1 {
		return 0, clientError(opUploadPart, msgPartNumber)
	}
	return int32(n), nil
}

// DecodeParts decodes the raw "parts" field of a completion request. The
// field must be present, a JSON array, and non-empty; every receipt must
// carry an ETag and a part number of at least 1.
func DecodeParts(raw json.RawMessage) ([]Receipt, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, clientError(opComplete, msgCompleteParams)
	}
	if trimmed[0] != '[' {
		return nil, clientError(opComplete, msgPartsArray)
	}

	var parts []Receipt
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return nil, clientError(opComplete, msgPartsInvalid)
	}
	if err := validateParts(parts); err != nil {
		return nil, err
	}
	return parts, nil
}

func validateParts(parts []Receipt) error {
	if len(parts) == 0 {
		return clientError(opComplete, msgPartsArray)
	}
	for _, p := range parts {
		if strings.TrimSpace(p.ETag) == "" || p.PartNumber < 1 {
			return clientError(opComplete, msgPartsInvalid)
		}
	}
	return nil
}
