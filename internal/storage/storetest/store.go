// Package storetest provides an in-memory [storage.ObjectStore] for tests.
//
// The fake follows S3 multipart semantics closely enough to exercise the
// upload workflow end to end: parts are kept per upload, re-uploading a part
// number replaces it, completion checks the manifest against the stored
// parts and assembles the object in manifest order, and operations on
// unknown or finished uploads fail with NoSuchUpload.
package storetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Operation names accepted by [Store.FailNext] and reported by [Store.Calls].
const (
	OpCreate    = "CreateMultipartUpload"
	OpUpload    = "UploadPart"
	OpComplete  = "CompleteMultipartUpload"
	OpAbort     = "AbortMultipartUpload"
	OpListMPU   = "ListMultipartUploads"
	OpListParts = "ListParts"
	OpList      = "ListObjectsV2"
	OpHead      = "HeadBucket"
)

// Object is a finished object in the fake bucket.
type Object struct {
	Data         []byte
	ContentType  string
	ETag         string
	LastModified time.Time
}

type part struct {
	data []byte
	etag string
}

type upload struct {
	key         string
	contentType string
	initiated   time.Time
	parts       map[int32]part
}

// Store is an in-memory object store. The zero value is not usable; call New.
type Store struct {
	// OmitLocation makes CompleteMultipartUpload return a nil Location, as
	// some S3 compatible stores do.
	OmitLocation bool
	// Now is the clock used for timestamps.
	Now func() time.Time

	bucket string

	mu      sync.Mutex
	objects map[string]Object
	uploads map[string]*upload
	seq     int
	calls   map[string]int
	faults  map[string][]error
}

// New creates an empty store holding a single bucket.
func New(bucket string) *Store {
	return &Store{
		Now:     time.Now,
		bucket:  bucket,
		objects: make(map[string]Object),
		uploads: make(map[string]*upload),
		calls:   make(map[string]int),
		faults:  make(map[string][]error),
	}
}

// APIError implements smithy.APIError so callers can inspect error codes
// exactly as they would with a real S3 response.
type APIError struct {
	Code    string
	Message string
	Fault   smithy.ErrorFault
}

func (e *APIError) Error() string              { return fmt.Sprintf("api error %s: %s", e.Code, e.Message) }
func (e *APIError) ErrorCode() string          { return e.Code }
func (e *APIError) ErrorMessage() string       { return e.Message }
func (e *APIError) ErrorFault() smithy.ErrorFault { return e.Fault }

var _ smithy.APIError = (*APIError)(nil)

// ErrInternal is a generic server-side failure usable with FailNext.
func ErrInternal() error {
	return &APIError{Code: "InternalError", Message: "We encountered an internal error. Please try again.", Fault: smithy.FaultServer}
}

func errNoSuchUpload() error {
	return &APIError{Code: "NoSuchUpload", Message: "The specified upload does not exist.", Fault: smithy.FaultClient}
}

// FailNext queues err to be returned by the next call to op.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Object returns a finished object.
func (s *Store) Object(key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// PutObject stores an object directly, bypassing the multipart flow.
func (s *Store) PutObject(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{Data: data, ETag: etagOf(data), LastModified: s.Now()}
}

// OpenUploads returns the number of uploads neither completed nor aborted.
func (s *Store) OpenUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// begin records a call to op and pops a queued fault. Callers must hold s.mu.
func (s *Store) begin(op string) error {
	s.calls[op]++
	if q := s.faults[op]; len(q) > 0 {
		s.faults[op] = q[1:]
		return q[0]
	}
	return nil
}

func (s *Store) checkBucket(bucket *string) error {
	if aws.ToString(bucket) != s.bucket {
		return &APIError{Code: "NoSuchBucket", Message: "The specified bucket does not exist", Fault: smithy.FaultClient}
	}
	return nil
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// CreateMultipartUpload implements storage.ObjectStore.
func (s *Store) CreateMultipartUpload(_ context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(OpCreate); err != nil {
		return nil, err
	}
	if err := s.checkBucket(params.Bucket); err != nil {
		return nil, err
	}

	s.seq++
	id := fmt.Sprintf("upload-%d", s.seq)
	s.uploads[id] = &upload{
		key:         aws.ToString(params.Key),
		contentType: aws.ToString(params.ContentType),
		initiated:   s.Now(),
		parts:       make(map[int32]part),
	}

	return &s3.CreateMultipartUploadOutput{
		Bucket:   params.Bucket,
		Key:      params.Key,
		UploadId: aws.String(id),
	}, nil
}

// UploadPart implements storage.ObjectStore.
func (s *Store) UploadPart(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	var data []byte
	if params.Body != nil {
		var err error
		if data, err = io.ReadAll(params.Body); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(OpUpload); err != nil {
		return nil, err
	}
	if err := s.checkBucket(params.Bucket); err != nil {
		return nil, err
	}

	up, ok := s.uploads[aws.ToString(params.UploadId)]
	if !ok || up.key != aws.ToString(params.Key) {
		return nil, errNoSuchUpload()
	}
	n := aws.ToInt32(params.PartNumber)
	if n < 1 || n > 10000 {
		return nil, &APIError{Code: "InvalidArgument", Message: "Part number must be an integer between 1 and 10000, inclusive", Fault: smithy.FaultClient}
	}

	etag := etagOf(data)
	up.parts[n] = part{data: data, etag: etag}
	return &s3.UploadPartOutput{ETag: aws.String(etag)}, nil
}

// CompleteMultipartUpload implements storage.ObjectStore.
func (s *Store) CompleteMultipartUpload(_ context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(OpComplete); err != nil {
		return nil, err
	}
	if err := s.checkBucket(params.Bucket); err != nil {
		return nil, err
	}

	id := aws.ToString(params.UploadId)
	key := aws.ToString(params.Key)
	up, ok := s.uploads[id]
	if !ok || up.key != key {
		return nil, errNoSuchUpload()
	}
	if params.MultipartUpload == nil || len(params.MultipartUpload.Parts) == 0 {
		return nil, &APIError{Code: "MalformedXML", Message: "The XML you provided was not well-formed", Fault: smithy.FaultClient}
	}

	var buf bytes.Buffer
	var prev int32
	for _, cp := range params.MultipartUpload.Parts {
		n := aws.ToInt32(cp.PartNumber)
		if n <= prev {
			return nil, &APIError{Code: "InvalidPartOrder", Message: "The list of parts was not in ascending order.", Fault: smithy.FaultClient}
		}
		prev = n
		p, ok := up.parts[n]
		if !ok || normalizeETag(aws.ToString(cp.ETag)) != normalizeETag(p.etag) {
			return nil, &APIError{Code: "InvalidPart", Message: "One or more of the specified parts could not be found.", Fault: smithy.FaultClient}
		}
		buf.Write(p.data)
	}

	data := buf.Bytes()
	etag := fmt.Sprintf(`"%s-%d"`, strings.Trim(etagOf(data), `"`), len(params.MultipartUpload.Parts))
	s.objects[key] = Object{Data: data, ContentType: up.contentType, ETag: etag, LastModified: s.Now()}
	delete(s.uploads, id)

	out := &s3.CompleteMultipartUploadOutput{
		Bucket: params.Bucket,
		Key:    params.Key,
		ETag:   aws.String(etag),
	}
	if !s.OmitLocation {
		out.Location = aws.String(fmt.Sprintf("http://store.test/%s/%s", s.bucket, key))
	}
	return out, nil
}

func normalizeETag(s string) string {
	return strings.Trim(s, `"`)
}

// AbortMultipartUpload implements storage.ObjectStore.
func (s *Store) AbortMultipartUpload(_ context.Context, params *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(OpAbort); err != nil {
		return nil, err
	}
	if err := s.checkBucket(params.Bucket); err != nil {
		return nil, err
	}

	id := aws.ToString(params.UploadId)
	up, ok := s.uploads[id]
	if !ok || up.key != aws.ToString(params.Key) {
		return nil, errNoSuchUpload()
	}
	delete(s.uploads, id)
	return &s3.AbortMultipartUploadOutput{}, nil
}

// ListMultipartUploads implements storage.ObjectStore. All matching uploads
// are returned in a single page.
func (s *Store) ListMultipartUploads(_ context.Context, params *s3.ListMultipartUploadsInput, _ ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(OpListMPU); err != nil {
		return nil, err
	}
	if err := s.checkBucket(params.Bucket); err != nil {
		return nil, err
	}

	prefix := aws.ToString(params.Prefix)
	var uploads []types.MultipartUpload
	for id, up := range s.uploads {
		if !strings.HasPrefix(up.key, prefix) {
			continue
		}
		uploads = append(uploads, types.MultipartUpload{
			Key:       aws.String(up.key),
			UploadId:  aws.String(id),
			Initiated: aws.Time(up.initiated),
		})
	}
	sort.Slice(uploads, func(i, j int) bool {
		return aws.ToString(uploads[i].UploadId) < aws.ToString(uploads[j].UploadId)
	})

	return &s3.ListMultipartUploadsOutput{
		Bucket:      params.Bucket,
		Uploads:     uploads,
		IsTruncated: aws.Bool(false),
	}, nil
}

// ListParts implements storage.ObjectStore. All parts are returned in a single page.
func (s *Store) ListParts(_ context.Context, params *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(OpListParts); err != nil {
		return nil, err
	}
	if err := s.checkBucket(params.Bucket); err != nil {
		return nil, err
	}

	up, ok := s.uploads[aws.ToString(params.UploadId)]
	if !ok || up.key != aws.ToString(params.Key) {
		return nil, errNoSuchUpload()
	}

	parts := make([]types.Part, 0, len(up.parts))
	for n, p := range up.parts {
		parts = append(parts, types.Part{
			PartNumber: aws.Int32(n),
			ETag:       aws.String(p.etag),
			Size:       aws.Int64(int64(len(p.data))),
		})
	}
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	return &s3.ListPartsOutput{
		Bucket:      params.Bucket,
		Key:         params.Key,
		UploadId:    params.UploadId,
		Parts:       parts,
		IsTruncated: aws.Bool(false),
	}, nil
}

// ListObjectsV2 implements storage.ObjectStore, honouring MaxKeys and
// continuation tokens so paginators can be exercised.
func (s *Store) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(OpList); err != nil {
		return nil, err
	}
	if err := s.checkBucket(params.Bucket); err != nil {
		return nil, err
	}

	prefix := aws.ToString(params.Prefix)
	after := aws.ToString(params.ContinuationToken)
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := int(aws.ToInt32(params.MaxKeys))
	if limit <= 0 {
		limit = 1000
	}
	truncated := len(keys) > limit
	if truncated {
		keys = keys[:limit]
	}

	contents := make([]types.Object, 0, len(keys))
	for _, k := range keys {
		obj := s.objects[k]
		contents = append(contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.Data))),
			ETag:         aws.String(obj.ETag),
			LastModified: aws.Time(obj.LastModified),
		})
	}

	out := &s3.ListObjectsV2Output{
		Contents:    contents,
		KeyCount:    aws.Int32(int32(len(contents))),
		IsTruncated: aws.Bool(truncated),
	}
	if truncated {
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	return out, nil
}

// HeadBucket implements storage.ObjectStore.
func (s *Store) HeadBucket(_ context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(OpHead); err != nil {
		return nil, err
	}
	if aws.ToString(params.Bucket) != s.bucket {
		return nil, &APIError{Code: "NotFound", Message: "Not Found", Fault: smithy.FaultClient}
	}
	return &s3.HeadBucketOutput{}, nil
}
