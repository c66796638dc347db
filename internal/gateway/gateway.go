// Package gateway runs the HTTP router behind an API Gateway Lambda proxy
// integration.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/stefando/mediaupload/internal/auth"
)

// Adapter converts API Gateway proxy events into HTTP requests for handler
// and converts the responses back.
type Adapter struct {
	handler http.Handler
	logger  *log.Logger
}

// New creates an Adapter serving events with handler.
func New(handler http.Handler, logger *log.Logger) *Adapter {
	return &Adapter{handler: handler, logger: logger}
}

// Handle is the Lambda handler function.
func (a *Adapter) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	httpReq, err := NewRequest(ctx, req)
	if err != nil {
		a.logger.Error("failed to convert gateway event", "method", req.HTTPMethod, "path", req.Path, "err", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"Invalid request"}`,
		}, nil
	}

	rec := newResponseRecorder()
	a.handler.ServeHTTP(rec, httpReq)
	return rec.proxyResponse(), nil
}

// NewRequest creates an http.Request from an API Gateway event. Binary part
// bodies arrive base64 encoded and are decoded here. The authorizer's
// principalId, when present, becomes the caller identity.
func NewRequest(ctx context.Context, req events.APIGatewayProxyRequest) (*http.Request, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded && req.Body != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 body: %w", err)
		}
		body = decoded
	}

	// Determine the full request path
	path := req.Path
	for param, value := range req.PathParameters {
		path = strings.ReplaceAll(path, "{"+param+"}", url.PathEscape(value))
	}

	if p, ok := req.RequestContext.Authorizer["principalId"].(string); ok && p != "" {
		ctx = auth.WithCaller(ctx, auth.Caller{Subject: p, Source: "gateway"})
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.HTTPMethod, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.ContentLength = int64(len(body))

	// Add query parameters, preferring the multi-value form
	query := url.Values{}
	if len(req.MultiValueQueryStringParameters) > 0 {
		for param, values := range req.MultiValueQueryStringParameters {
			for _, v := range values {
				query.Add(param, v)
			}
		}
	} else {
		for param, value := range req.QueryStringParameters {
			query.Add(param, value)
		}
	}
	httpReq.URL.RawQuery = query.Encode()

	// Add headers
	if len(req.MultiValueHeaders) > 0 {
		for key, values := range req.MultiValueHeaders {
			for _, v := range values {
				httpReq.Header.Add(key, v)
			}
		}
	} else {
		for key, value := range req.Headers {
			httpReq.Header.Add(key, value)
		}
	}

	if httpReq.Header.Get("X-Request-Id") == "" {
		id := req.RequestContext.RequestID
		if id == "" {
			id = uuid.NewString()
		}
		httpReq.Header.Set("X-Request-Id", id)
	}
	if ip := req.RequestContext.Identity.SourceIP; ip != "" {
		httpReq.RemoteAddr = ip
	}

	return httpReq, nil
}

// responseRecorder captures the router's HTTP response
type responseRecorder struct {
	header      http.Header
	body        bytes.Buffer
	statusCode  int
	wroteHeader bool
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header:     http.Header{},
		statusCode: http.StatusOK,
	}
}

// Header implements the http.ResponseWriter interface
func (r *responseRecorder) Header() http.Header {
	return r.header
}

// Write implements the http.ResponseWriter interface
func (r *responseRecorder) Write(body []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(body)
}

// WriteHeader implements the http.ResponseWriter interface
func (r *responseRecorder) WriteHeader(statusCode int) {
	if r.wroteHeader {
		return
	}
	r.statusCode = statusCode
	r.wroteHeader = true
}

func (r *responseRecorder) proxyResponse() events.APIGatewayProxyResponse {
	resp := events.APIGatewayProxyResponse{
		StatusCode:        r.statusCode,
		Headers:           make(map[string]string, len(r.header)),
		MultiValueHeaders: make(map[string][]string, len(r.header)),
	}
	for key, values := range r.header {
		if len(values) > 0 {
			resp.Headers[key] = values[0]
		}
		resp.MultiValueHeaders[key] = values
	}

	body := r.body.Bytes()
	if utf8.Valid(body) {
		resp.Body = string(body)
	} else {
		resp.Body = base64.StdEncoding.EncodeToString(body)
		resp.IsBase64Encoded = true
	}
	return resp
}
