// Package upload implements the chunked multipart upload workflow.
//
// A session is opened with Init, fed with any number of independent and
// retryable UploadPart calls, and closed with either Complete or Abort.
// The Service keeps no record of open sessions: every call is validated and
// forwarded to the object store, which is the only source of truth.
package upload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/charmbracelet/log"

	"github.com/stefando/mediaupload/internal/config"
	"github.com/stefando/mediaupload/internal/storage"
)

const (
	// DefaultPrefix namespaces every key created by Init.
	DefaultPrefix = "uploads/"
	// DefaultContentType is used when Init is given no content type.
	DefaultContentType = "application/octet-stream"
	// AbortedMessage confirms a successful abort.
	AbortedMessage = "Upload aborted successfully"
)

// Operation names, used in errors, logs and metrics.
const (
	opInit         = "init"
	opUploadPart   = "upload_part"
	opComplete     = "complete"
	opAbort        = "abort"
	opListFiles    = "list_files"
	opListSessions = "list_sessions"
	opListParts    = "list_parts"
	opSweep        = "sweep"
)

const (
	msgFilename       = "Filename is required"
	msgPartParams     = "uploadId, key, and partNumber are required"
	msgPartNumber     = "partNumber must be a positive integer"
	msgCompleteParams = "uploadId, key, and parts are required"
	msgPartsArray     = "parts must be a non-empty array"
	msgPartsInvalid   = "Each part requires an ETag and a PartNumber of at least 1"
	msgSessionParams  = "uploadId and key are required"

	msgInitFailed     = "Failed to initiate upload"
	msgPartFailed     = "Failed to upload part"
	msgCompleteFailed = "Failed to complete upload"
	msgAbortFailed    = "Failed to abort upload"
	msgListFailed     = "Failed to list uploads"
	msgSweepFailed    = "Failed to abort some stale uploads"
)

// Outcomes reported to a Recorder.
const (
	OutcomeSuccess      = "success"
	OutcomeClientError  = "client_error"
	OutcomeServiceError = "service_error"
)

// Config is the immutable configuration of a Service.
type Config struct {
	Bucket             string
	Prefix             string
	PublicEndpoint     string
	DefaultContentType string
}

// ConfigFrom derives the service configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Bucket:             cfg.Storage.Bucket,
		Prefix:             cfg.Upload.Prefix,
		PublicEndpoint:     cfg.Storage.ObjectBaseURL(),
		DefaultContentType: cfg.Upload.DefaultContentType,
	}
}

// Recorder receives operation outcomes and uploaded byte counts.
type Recorder interface {
	Operation(op, outcome string)
	PartBytes(n int64)
}

type nopRecorder struct{}

func (nopRecorder) Operation(string, string) {}
func (nopRecorder) PartBytes(int64)          {}

// Service translates upload lifecycle operations into object store calls.
// It is safe for concurrent use.
type Service struct {
	cfg    Config
	store  storage.ObjectStore
	logger *log.Logger
	now    func() time.Time
	rec    Recorder

	// pageSize caps list page sizes; zero leaves it to the store.
	pageSize int32
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used to timestamp keys.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRecorder sets where operation outcomes are reported.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.rec = r
	}
}

// NewService creates a Service backed by store.
func NewService(cfg Config, store storage.ObjectStore, logger *log.Logger, opts ...Option) *Service {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.DefaultContentType == "" {
		cfg.DefaultContentType = DefaultContentType
	}
	s := &Service{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
		rec:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key builds the object key for filename created at t.
func Key(prefix string, t time.Time, filename string) string {
	return fmt.Sprintf("%s%d_%s", prefix, t.UnixMilli(), filename)
}

// Init opens a new multipart upload session.
func (s *Service) Init(ctx context.Context, req InitRequest) (*InitResponse, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return nil, s.finish(opInit, clientError(opInit, msgFilename))
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = s.cfg.DefaultContentType
	}
	key := Key(s.cfg.Prefix, s.now(), req.Filename)

	out, err := s.store.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		s.logger.Error("failed to create multipart upload", "key", key, "content_type", contentType, "code", StoreErrorCode(err), "err", err)
		return nil, s.finish(opInit, serviceError(opInit, msgInitFailed, err))
	}

	uploadID := aws.ToString(out.UploadId)
	s.logger.Info("upload initiated", "upload_id", uploadID, "key", key, "content_type", contentType)
	s.finish(opInit, nil)
	return &InitResponse{UploadID: uploadID, Key: key}, nil
}

// UploadPart stores one part. The body is streamed to the store without
// buffering; re-sending a part number replaces the earlier part.
func (s *Service) UploadPart(ctx context.Context, req PartRequest) (*PartResponse, error) {
	if req.UploadID == "" || req.Key == "" {
		return nil, s.finish(opUploadPart, clientError(opUploadPart, msgPartParams))
	}
	if req.PartNumber < 1 {
		return nil, s.finish(opUploadPart, clientError(opUploadPart, msgPartNumber))
	}

	body := req.Body
	if body == nil {
		body = strings.NewReader("")
	}
	input := &s3.UploadPartInput{
		Bucket:     aws.String(s.cfg.Bucket),
		Key:        aws.String(req.Key),
		UploadId:   aws.String(req.UploadID),
		PartNumber: aws.Int32(req.PartNumber),
		Body:       body,
	}
	if req.ContentLength >= 0 {
		input.ContentLength = aws.Int64(req.ContentLength)
	}

	// the body cannot be rewound, so sign it as an unsigned payload
	out, err := s.store.UploadPart(ctx, input, s3.WithAPIOptions(v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware))
	if err != nil {
		s.logger.Error("failed to upload part", "upload_id", req.UploadID, "key", req.Key, "part_number", req.PartNumber, "code", StoreErrorCode(err), "err", err)
		return nil, s.finish(opUploadPart, serviceError(opUploadPart, msgPartFailed, err))
	}

	s.logger.Debug("part uploaded", "upload_id", req.UploadID, "part_number", req.PartNumber, "size", req.ContentLength)
	if req.ContentLength > 0 {
		s.rec.PartBytes(req.ContentLength)
	}
	s.finish(opUploadPart, nil)
	return &PartResponse{ETag: aws.ToString(out.ETag), PartNumber: req.PartNumber}, nil
}

// Complete assembles the object from the caller's manifest. Receipts are
// passed to the store in the order given; ordering and continuity are
// checked by the store.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	if req.UploadID == "" || req.Key == "" || req.Parts == nil {
		return nil, s.finish(opComplete, clientError(opComplete, msgCompleteParams))
	}
	if err := validateParts(req.Parts); err != nil {
		return nil, s.finish(opComplete, err)
	}

	out, err := s.store.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.cfg.Bucket),
		Key:      aws.String(req.Key),
		UploadId: aws.String(req.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: convertReceipts(req.Parts),
		},
	})
	if err != nil {
		code := StoreErrorCode(err)
		s.logger.Error("failed to complete multipart upload", "upload_id", req.UploadID, "key", req.Key, "parts", len(req.Parts), "code", code, "err", err)
		msg, ok := completeFailureMessages[code]
		if !ok {
			msg = msgCompleteFailed
		}
		return nil, s.finish(opComplete, serviceError(opComplete, msg, err))
	}

	location := aws.ToString(out.Location)
	if location == "" {
		location = fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.PublicEndpoint, "/"), s.cfg.Bucket, req.Key)
	}

	s.logger.Info("upload completed", "upload_id", req.UploadID, "key", req.Key, "parts", len(req.Parts))
	s.finish(opComplete, nil)
	return &CompleteResponse{Location: location, Key: req.Key}, nil
}

// Abort discards a session and every part stored for it.
func (s *Service) Abort(ctx context.Context, req AbortRequest) (*AbortResponse, error) {
	if req.UploadID == "" || req.Key == "" {
		return nil, s.finish(opAbort, clientError(opAbort, msgSessionParams))
	}

	_, err := s.store.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.cfg.Bucket),
		Key:      aws.String(req.Key),
		UploadId: aws.String(req.UploadID),
	})
	if err != nil {
		s.logger.Error("failed to abort multipart upload", "upload_id", req.UploadID, "key", req.Key, "code", StoreErrorCode(err), "err", err)
		return nil, s.finish(opAbort, serviceError(opAbort, msgAbortFailed, err))
	}

	s.logger.Info("upload aborted", "upload_id", req.UploadID, "key", req.Key)
	s.finish(opAbort, nil)
	return &AbortResponse{Message: AbortedMessage}, nil
}

// convertReceipts maps the caller's receipts onto the store's manifest type,
// keeping their order.
func convertReceipts(parts []Receipt) []types.CompletedPart {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		}
	}
	return completed
}

// finish reports the outcome of op and passes err through.
func (s *Service) finish(op string, err error) error {
	switch {
	case err == nil:
		s.rec.Operation(op, OutcomeSuccess)
	case IsClientError(err):
		s.rec.Operation(op, OutcomeClientError)
	default:
		s.rec.Operation(op, OutcomeServiceError)
	}
	return err
}
