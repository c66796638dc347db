// Package client drives the upload API from the sending side: it splits a
// file into parts, uploads them concurrently with retries, and completes or
// aborts the session.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/stefando/mediaupload/internal/config"
	"github.com/stefando/mediaupload/internal/logging"
	"github.com/stefando/mediaupload/internal/upload"
)

const (
	// DefaultPartSize is 8 MiB, above the 5 MiB minimum S3 requires for all
	// but the last part.
	DefaultPartSize int64 = 8 << 20
	// DefaultConcurrency is the number of parts in flight.
	DefaultConcurrency = 4
	// DefaultRetries is how often a failed part is re-sent.
	DefaultRetries = 3

	abortTimeout = 30 * time.Second
)

// ProgressFunc is called after each part is stored with the number of bytes
// stored so far and the total size.
type ProgressFunc func(sent, total int64)

// Options configures a Client.
type Options struct {
	BaseURL     string
	PartSize    int64
	Concurrency int
	Retries     int
	// RetryWait is the initial backoff between part attempts.
	RetryWait time.Duration
	// PartsPerSecond paces part uploads; zero means unlimited.
	PartsPerSecond float64
	HTTPClient     *http.Client
	Logger         *log.Logger
	Progress       ProgressFunc
}

// OptionsFrom derives client options from the application config.
func OptionsFrom(cfg config.ClientConfig) Options {
	return Options{
		BaseURL:        cfg.BaseURL,
		PartSize:       cfg.PartSize,
		Concurrency:    cfg.Concurrency,
		Retries:        cfg.Retries,
		PartsPerSecond: cfg.PartsPerSecond,
	}
}

// APIError is a non-2xx answer from the upload API.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
}

// Client talks to the upload API.
type Client struct {
	opts    Options
	logger  *log.Logger
	rc      *resty.Client // single attempt: init, complete, abort, listings
	parts   *resty.Client // retried: part uploads are idempotent
	limiter *rate.Limiter
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.PartSize <= 0 {
		opts.PartSize = DefaultPartSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 500 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	c := &Client{
		opts:   opts,
		logger: opts.Logger,
		rc:     newResty(opts),
		parts:  newResty(opts),
	}

	c.parts.
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryWait * 8).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests
		}).
		AddRetryHook(func(resp *resty.Response, err error) {
			if resp == nil || resp.Request == nil {
				c.logger.Warn("retrying part upload", "err", err)
				return
			}
			c.logger.Warn("retrying part upload", "part_number", resp.Request.QueryParam.Get("partNumber"), "status", resp.StatusCode(), "err", err)
		})

	if opts.PartsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.PartsPerSecond), 1)
	}
	return c
}

func newResty(opts Options) *resty.Client {
	return resty.NewWithClient(opts.HTTPClient).
		SetBaseURL(opts.BaseURL).
		SetLogger(opts.Logger).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			if r.Header.Get("X-Request-Id") == "" {
				r.SetHeader("X-Request-Id", uuid.NewString())
			}
			return nil
		})
}

// check turns a non-2xx response into an *APIError.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if body, ok := resp.Error().(*errorBody); ok && body.Error != "" {
			msg = body.Error
		}
		return &APIError{Op: op, Status: resp.StatusCode(), Message: msg}
	}
	return nil
}

// Init opens an upload session.
func (c *Client) Init(ctx context.Context, filename, contentType string) (*upload.InitResponse, error) {
	var result upload.InitResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(upload.InitRequest{Filename: filename, ContentType: contentType}).
		SetResult(&result).
		SetError(&errorBody{}).
		Post("/api/upload/init")
	if err := check("init", resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadPart sends one part, retrying transport errors and 5xx answers.
func (c *Client) UploadPart(ctx context.Context, sess upload.Session, partNumber int32, data []byte) (*upload.Receipt, error) {
	var result upload.Receipt
	resp, err := c.parts.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"uploadId":   sess.UploadID,
			"key":        sess.Key,
			"partNumber": strconv.Itoa(int(partNumber)),
		}).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		SetResult(&result).
		SetError(&errorBody{}).
		Put("/api/upload/part")
	if err := check(fmt.Sprintf("upload part %d", partNumber), resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// Complete finalizes a session. It is never retried.
func (c *Client) Complete(ctx context.Context, sess upload.Session, parts []upload.Receipt) (*upload.CompleteResponse, error) {
	var result upload.CompleteResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(upload.CompleteRequest{UploadID: sess.UploadID, Key: sess.Key, Parts: parts}).
		SetResult(&result).
		SetError(&errorBody{}).
		Post("/api/upload/complete")
	if err := check("complete", resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// Abort discards a session.
func (c *Client) Abort(ctx context.Context, sess upload.Session) (*upload.AbortResponse, error) {
	var result upload.AbortResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"uploadId": sess.UploadID, "key": sess.Key}).
		SetResult(&result).
		SetError(&errorBody{}).
		Delete("/api/upload/abort")
	if err := check("abort", resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// Files lists finished uploads.
func (c *Client) Files(ctx context.Context) ([]upload.FileInfo, error) {
	var result struct {
		Files []upload.FileInfo `json:"files"`
	}
	resp, err := c.rc.R().SetContext(ctx).SetResult(&result).SetError(&errorBody{}).Get("/api/upload/files")
	if err := check("files", resp, err); err != nil {
		return nil, err
	}
	return result.Files, nil
}

// Sessions lists open upload sessions.
func (c *Client) Sessions(ctx context.Context) ([]upload.OpenSession, error) {
	var result struct {
		Sessions []upload.OpenSession `json:"sessions"`
	}
	resp, err := c.rc.R().SetContext(ctx).SetResult(&result).SetError(&errorBody{}).Get("/api/upload/sessions")
	if err := check("sessions", resp, err); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// Parts lists the parts stored for an open session.
func (c *Client) Parts(ctx context.Context, sess upload.Session) ([]upload.StoredPart, error) {
	var result struct {
		Parts []upload.StoredPart `json:"parts"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"uploadId": sess.UploadID, "key": sess.Key}).
		SetResult(&result).
		SetError(&errorBody{}).
		Get("/api/upload/parts")
	if err := check("parts", resp, err); err != nil {
		return nil, err
	}
	return result.Parts, nil
}

// UploadFile uploads the file at path under its base name.
func (c *Client) UploadFile(ctx context.Context, path string) (*upload.CompleteResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	return c.Upload(ctx, name, f, fi.Size(), ContentType(name, f))
}

// Upload sends size bytes from r as one object named name.
//
// Parts are uploaded concurrently; each one is retried on its own. The
// manifest is built in part number order and Complete is called once. If any
// part fails for good, Complete fails, or ctx is cancelled, the session is
// aborted and the original error returned.
func (c *Client) Upload(ctx context.Context, name string, r io.ReaderAt, size int64, contentType string) (*upload.CompleteResponse, error) {
	started, err := c.Init(ctx, name, contentType)
	if err != nil {
		return nil, err
	}
	sess := upload.Session{UploadID: started.UploadID, Key: started.Key}
	logger := c.logger.With("upload_id", sess.UploadID, "key", sess.Key)

	chunks := Split(size, c.opts.PartSize)
	logger.Info("upload started", "size", size, "parts", len(chunks))

	receipts := make([]upload.Receipt, len(chunks))
	var sent atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, ch := range chunks {
		g.Go(func() error {
			if c.limiter != nil {
				if err := c.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			data, err := readChunk(r, ch)
			if err != nil {
				return fmt.Errorf("read part %d: %w", ch.Number, err)
			}
			receipt, err := c.UploadPart(gctx, sess, ch.Number, data)
			if err != nil {
				return err
			}
			receipts[ch.Number-1] = *receipt

			total := sent.Add(ch.Size)
			logger.Debug("part uploaded", "part_number", ch.Number, "size", ch.Size)
			if c.opts.Progress != nil {
				c.opts.Progress(total, size)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.abort(ctx, logger, sess)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		c.abort(ctx, logger, sess)
		return nil, err
	}

	resp, err := c.Complete(ctx, sess, receipts)
	if err != nil {
		c.abort(ctx, logger, sess)
		return nil, err
	}
	logger.Info("upload completed", "location", resp.Location)
	return resp, nil
}

// abort discards sess even when ctx is already cancelled.
func (c *Client) abort(ctx context.Context, logger *log.Logger, sess upload.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	if _, err := c.Abort(ctx, sess); err != nil {
		logger.Error("failed to abort upload", "err", err)
		return
	}
	logger.Warn("upload aborted")
}
