package upload

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-multierror"
)

// ListFiles returns every finished object under the upload prefix.
func (s *Service) ListFiles(ctx context.Context) ([]FileInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix),
	}
	if s.pageSize > 0 {
		input.MaxKeys = aws.Int32(s.pageSize)
	}
	paginator := s3.NewListObjectsV2Paginator(s.store, input)

	files := []FileInfo{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			s.logger.Error("failed to list objects", "prefix", s.cfg.Prefix, "code", StoreErrorCode(err), "err", err)
			return nil, s.finish(opListFiles, serviceError(opListFiles, msgListFailed, err))
		}
		for _, obj := range page.Contents {
			files = append(files, FileInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}
	}

	s.finish(opListFiles, nil)
	return files, nil
}

// ListSessions returns the multipart uploads under the upload prefix that
// were neither completed nor aborted.
func (s *Service) ListSessions(ctx context.Context) ([]OpenSession, error) {
	sessions, err := s.listSessions(ctx)
	if err != nil {
		s.logger.Error("failed to list multipart uploads", "prefix", s.cfg.Prefix, "code", StoreErrorCode(err), "err", err)
		return nil, s.finish(opListSessions, serviceError(opListSessions, msgListFailed, err))
	}
	s.finish(opListSessions, nil)
	return sessions, nil
}

func (s *Service) listSessions(ctx context.Context) ([]OpenSession, error) {
	input := &s3.ListMultipartUploadsInput{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix),
	}

	sessions := []OpenSession{}
	for {
		out, err := s.store.ListMultipartUploads(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, u := range out.Uploads {
			sessions = append(sessions, OpenSession{
				UploadID:  aws.ToString(u.UploadId),
				Key:       aws.ToString(u.Key),
				Initiated: aws.ToTime(u.Initiated),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			return sessions, nil
		}
		input.KeyMarker = out.NextKeyMarker
		input.UploadIdMarker = out.NextUploadIdMarker
	}
}

// ListParts returns the parts the store holds for an open session, in part
// number order. A client can use it to resume an interrupted upload.
func (s *Service) ListParts(ctx context.Context, session Session) ([]StoredPart, error) {
	if session.UploadID == "" || session.Key == "" {
		return nil, s.finish(opListParts, clientError(opListParts, msgSessionParams))
	}

	paginator := s3.NewListPartsPaginator(s.store, &s3.ListPartsInput{
		Bucket:   aws.String(s.cfg.Bucket),
		Key:      aws.String(session.Key),
		UploadId: aws.String(session.UploadID),
	})

	parts := []StoredPart{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			s.logger.Error("failed to list parts", "upload_id", session.UploadID, "key", session.Key, "code", StoreErrorCode(err), "err", err)
			return nil, s.finish(opListParts, serviceError(opListParts, msgListFailed, err))
		}
		for _, p := range page.Parts {
			parts = append(parts, StoredPart{
				Receipt: Receipt{ETag: aws.ToString(p.ETag), PartNumber: aws.ToInt32(p.PartNumber)},
				Size:    aws.ToInt64(p.Size),
			})
		}
	}

	s.finish(opListParts, nil)
	return parts, nil
}

// SweepStale aborts every open session initiated more than olderThan ago.
// It keeps going past individual failures and returns the sessions it did
// abort together with the combined error. Nothing calls it automatically.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration) ([]OpenSession, error) {
	sessions, err := s.listSessions(ctx)
	if err != nil {
		s.logger.Error("failed to list multipart uploads", "prefix", s.cfg.Prefix, "code", StoreErrorCode(err), "err", err)
		return nil, s.finish(opSweep, serviceError(opSweep, msgListFailed, err))
	}

	cutoff := s.now().Add(-olderThan)
	aborted := []OpenSession{}
	var result *multierror.Error
	for _, sess := range sessions {
		if !sess.Initiated.Before(cutoff) {
			continue
		}
		if _, err := s.Abort(ctx, AbortRequest{UploadID: sess.UploadID, Key: sess.Key}); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		aborted = append(aborted, sess)
	}

	if err := result.ErrorOrNil(); err != nil {
		s.logger.Warn("stale upload sweep finished with errors", "aborted", len(aborted), "failed", result.Len())
		return aborted, s.finish(opSweep, serviceError(opSweep, msgSweepFailed, err))
	}

	s.logger.Info("stale upload sweep finished", "aborted", len(aborted), "open", len(sessions))
	s.finish(opSweep, nil)
	return aborted, nil
}
