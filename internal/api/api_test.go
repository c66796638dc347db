package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/mediaupload/internal/logging"
	"github.com/stefando/mediaupload/internal/metrics"
	"github.com/stefando/mediaupload/internal/storage/storetest"
	"github.com/stefando/mediaupload/internal/upload"
)

type testServer struct {
	router  http.Handler
	store   *storetest.Store
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, maxPartBytes int64) *testServer {
	t.Helper()
	store := storetest.New("media")
	m := metrics.New()
	svc := upload.NewService(
		upload.Config{Bucket: "media", PublicEndpoint: "http://cdn.test"},
		store,
		logging.Discard(),
		upload.WithClock(func() time.Time { return time.UnixMilli(171234) }),
		upload.WithRecorder(m),
	)
	router := NewRouter(svc, Options{Logger: logging.Discard(), Metrics: m, MaxPartBytes: maxPartBytes})
	return &testServer{router: router, store: store, metrics: m}
}

func (s *testServer) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(t *testing.T, method, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return s.do(t, method, target, bytes.NewReader(data))
}

func partURL(uploadID, key, partNumber string) string {
	q := url.Values{}
	if uploadID != "" {
		q.Set("uploadId", uploadID)
	}
	if key != "" {
		q.Set("key", key)
	}
	if partNumber != "" {
		q.Set("partNumber", partNumber)
	}
	return "/api/upload/part?" + q.Encode()
}

func abortURL(uploadID, key string) string {
	q := url.Values{"uploadId": {uploadID}, "key": {key}}
	return "/api/upload/abort?" + q.Encode()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, message, decode[errorResponse](t, rec).Error)
}

func TestWorkflow(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.doJSON(t, http.MethodPost, "/api/upload/init", map[string]string{"filename": "song.mp3", "contentType": "audio/mpeg"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	initResp := decode[upload.InitResponse](t, rec)
	assert.Equal(t, "uploads/171234_song.mp3", initResp.Key)
	assert.NotEmpty(t, initResp.UploadID)

	var receipts []map[string]any
	for i, payload := range []string{"bytes_A", "bytes_B"} {
		rec := s.do(t, http.MethodPut, partURL(initResp.UploadID, initResp.Key, []string{"1", "2"}[i]), strings.NewReader(payload))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		receipt := decode[map[string]any](t, rec)
		assert.NotEmpty(t, receipt["ETag"])
		assert.EqualValues(t, i+1, receipt["PartNumber"])
		receipts = append(receipts, receipt)
	}

	rec = s.doJSON(t, http.MethodPost, "/api/upload/complete", map[string]any{
		"uploadId": initResp.UploadID,
		"key":      initResp.Key,
		"parts":    receipts,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[map[string]string](t, rec)
	assert.Equal(t, initResp.Key, done["key"])
	assert.Equal(t, "http://store.test/media/uploads/171234_song.mp3", done["location"])

	obj, ok := s.store.Object(initResp.Key)
	require.True(t, ok)
	assert.Equal(t, "bytes_Abytes_B", string(obj.Data))
	assert.Equal(t, "audio/mpeg", obj.ContentType)

	// the session is finalized; abort is relayed as a service error
	rec = s.do(t, http.MethodDelete, abortURL(initResp.UploadID, initResp.Key), nil)
	assertError(t, rec, http.StatusInternalServerError, "Failed to abort upload")
}

func TestInit(t *testing.T) {
	t.Run("Missing Filename", func(t *testing.T) {
		s := newTestServer(t, 0)

		rec := s.doJSON(t, http.MethodPost, "/api/upload/init", map[string]string{"contentType": "audio/mpeg"})
		assertError(t, rec, http.StatusBadRequest, "Filename is required")
		assert.Zero(t, s.store.Calls(storetest.OpCreate))
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		s := newTestServer(t, 0)

		rec := s.do(t, http.MethodPost, "/api/upload/init", strings.NewReader("{filename:"))
		assertError(t, rec, http.StatusBadRequest, msgInvalidBody)
	})

	t.Run("Store Failure Is Opaque", func(t *testing.T) {
		s := newTestServer(t, 0)
		s.store.FailNext(storetest.OpCreate, storetest.ErrInternal())

		rec := s.doJSON(t, http.MethodPost, "/api/upload/init", map[string]string{"filename": "a.bin"})
		assertError(t, rec, http.StatusInternalServerError, "Failed to initiate upload")
		assert.NotContains(t, rec.Body.String(), "InternalError")
	})

	t.Run("Wrong Method", func(t *testing.T) {
		s := newTestServer(t, 0)

		rec := s.do(t, http.MethodGet, "/api/upload/init", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestPart(t *testing.T) {
	open := func(t *testing.T, s *testServer) upload.InitResponse {
		rec := s.doJSON(t, http.MethodPost, "/api/upload/init", map[string]string{"filename": "a.bin"})
		require.Equal(t, http.StatusOK, rec.Code)
		return decode[upload.InitResponse](t, rec)
	}

	t.Run("Missing Parameters", func(t *testing.T) {
		s := newTestServer(t, 0)
		sess := open(t, s)

		for _, target := range []string{
			partURL("", sess.Key, "1"),
			partURL(sess.UploadID, "", "1"),
			partURL(sess.UploadID, sess.Key, ""),
		} {
			rec := s.do(t, http.MethodPut, target, strings.NewReader("data"))
			assertError(t, rec, http.StatusBadRequest, "uploadId, key, and partNumber are required")
		}
		assert.Zero(t, s.store.Calls(storetest.OpUpload))
	})

	t.Run("Invalid Part Number", func(t *testing.T) {
		s := newTestServer(t, 0)
		sess := open(t, s)

		for _, n := range []string{"0", "-1", "abc"} {
			rec := s.do(t, http.MethodPut, partURL(sess.UploadID, sess.Key, n), strings.NewReader("data"))
			assertError(t, rec, http.StatusBadRequest, "partNumber must be a positive integer")
		}
		assert.Zero(t, s.store.Calls(storetest.OpUpload))
	})

	t.Run("Too Large", func(t *testing.T) {
		s := newTestServer(t, 4)
		sess := open(t, s)

		rec := s.do(t, http.MethodPut, partURL(sess.UploadID, sess.Key, "1"), strings.NewReader("0123456789"))
		assertError(t, rec, http.StatusBadRequest, msgPartTooLarge)
		assert.Zero(t, s.store.Calls(storetest.OpUpload))
	})

	t.Run("Unknown Length Over Limit", func(t *testing.T) {
		s := newTestServer(t, 4)
		sess := open(t, s)

		req := httptest.NewRequest(http.MethodPut, partURL(sess.UploadID, sess.Key, "1"), strings.NewReader("0123456789"))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assertError(t, rec, http.StatusBadRequest, msgPartTooLarge)
	})

	t.Run("Unknown Session", func(t *testing.T) {
		s := newTestServer(t, 0)

		rec := s.do(t, http.MethodPut, partURL("nope", "uploads/1_x", "1"), strings.NewReader("data"))
		assertError(t, rec, http.StatusInternalServerError, "Failed to upload part")
	})
}

func TestComplete(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		message string
	}{
		{"Missing Parts", `{"uploadId":"u","key":"k"}`, "uploadId, key, and parts are required"},
		{"Null Parts", `{"uploadId":"u","key":"k","parts":null}`, "uploadId, key, and parts are required"},
		{"Missing Key", `{"uploadId":"u","parts":[{"ETag":"e","PartNumber":1}]}`, "uploadId, key, and parts are required"},
		{"Object Parts", `{"uploadId":"u","key":"k","parts":{"ETag":"e","PartNumber":1}}`, "parts must be a non-empty array"},
		{"String Parts", `{"uploadId":"u","key":"k","parts":"1,2"}`, "parts must be a non-empty array"},
		{"Empty Parts", `{"uploadId":"u","key":"k","parts":[]}`, "parts must be a non-empty array"},
		{"Bad Receipt", `{"uploadId":"u","key":"k","parts":[{"PartNumber":1}]}`, "Each part requires an ETag and a PartNumber of at least 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, 0)

			rec := s.do(t, http.MethodPost, "/api/upload/complete", strings.NewReader(tc.body))
			assertError(t, rec, http.StatusBadRequest, tc.message)
			assert.Zero(t, s.store.Calls(storetest.OpComplete))
		})
	}

	t.Run("Store Rejection", func(t *testing.T) {
		s := newTestServer(t, 0)

		rec := s.do(t, http.MethodPost, "/api/upload/complete", strings.NewReader(`{"uploadId":"u","key":"k","parts":[{"ETag":"e","PartNumber":1}]}`))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "NoSuchUpload")
	})
}

func TestAbort(t *testing.T) {
	t.Run("Missing Parameters", func(t *testing.T) {
		s := newTestServer(t, 0)

		rec := s.do(t, http.MethodDelete, "/api/upload/abort?uploadId=u", nil)
		assertError(t, rec, http.StatusBadRequest, "uploadId and key are required")
	})

	t.Run("Garbage Identity", func(t *testing.T) {
		s := newTestServer(t, 0)

		rec := s.do(t, http.MethodDelete, abortURL("garbage", "uploads/0_none"), nil)
		assertError(t, rec, http.StatusInternalServerError, "Failed to abort upload")
	})

	t.Run("Open Session", func(t *testing.T) {
		s := newTestServer(t, 0)
		rec := s.doJSON(t, http.MethodPost, "/api/upload/init", map[string]string{"filename": "a.bin"})
		sess := decode[upload.InitResponse](t, rec)

		rec = s.do(t, http.MethodDelete, abortURL(sess.UploadID, sess.Key), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Upload aborted successfully", decode[upload.AbortResponse](t, rec).Message)
		assert.Zero(t, s.store.OpenUploads())
	})
}

func TestListing(t *testing.T) {
	s := newTestServer(t, 0)
	s.store.PutObject("uploads/1_done.bin", []byte("abc"))

	rec := s.doJSON(t, http.MethodPost, "/api/upload/init", map[string]string{"filename": "open.bin"})
	sess := decode[upload.InitResponse](t, rec)
	rec = s.do(t, http.MethodPut, partURL(sess.UploadID, sess.Key, "1"), strings.NewReader("xyz"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/upload/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	files := decode[map[string][]upload.FileInfo](t, rec)["files"]
	require.Len(t, files, 1)
	assert.Equal(t, "uploads/1_done.bin", files[0].Key)

	rec = s.do(t, http.MethodGet, "/api/upload/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode[map[string][]upload.OpenSession](t, rec)["sessions"]
	require.Len(t, sessions, 1)
	assert.Equal(t, sess.UploadID, sessions[0].UploadID)

	q := url.Values{"uploadId": {sess.UploadID}, "key": {sess.Key}}
	rec = s.do(t, http.MethodGet, "/api/upload/parts?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parts := decode[map[string][]upload.StoredPart](t, rec)["parts"]
	require.Len(t, parts, 1)
	assert.Equal(t, int32(1), parts[0].PartNumber)
	assert.Equal(t, int64(3), parts[0].Size)

	rec = s.do(t, http.MethodGet, "/api/upload/parts", nil)
	assertError(t, rec, http.StatusBadRequest, "uploadId and key are required")
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/nowhere", nil)
	assertError(t, rec, http.StatusNotFound, "Not found")

	s.doJSON(t, http.MethodPost, "/api/upload/init", map[string]string{})

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mediaupload_operations_total{op="init",outcome="client_error"} 1`)
	assert.Contains(t, body, `route="/api/upload/init"`)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}
