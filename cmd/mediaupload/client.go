package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/stefando/mediaupload/internal/client"
	"github.com/stefando/mediaupload/internal/upload"
)

var ErrMissingFile = errors.New("a file to upload is required")

// Upload sends a local file through the API in parts.
func (r *Runner) Upload(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("file")
	if path == "" {
		path = cmd.Args().First()
	}
	if path == "" {
		return ErrMissingFile
	}

	opts := client.OptionsFrom(r.config.Client)
	opts.Logger = r.logger
	if u := cmd.String("url"); u != "" {
		opts.BaseURL = u
	}
	if n := cmd.Int64("part-size"); n > 0 {
		opts.PartSize = n
	}
	if n := cmd.Int("concurrency"); n > 0 {
		opts.Concurrency = n
	}
	opts.Progress = func(sent, total int64) {
		pct := 100.0
		if total > 0 {
			pct = float64(sent) * 100 / float64(total)
		}
		r.logger.Info("progress", "file", path, "sent", sent, "total", total, "percent", fmt.Sprintf("%.1f", pct))
	}
	c := client.New(opts)

	var (
		resp *upload.CompleteResponse
		err  error
	)
	if ct := cmd.String("content-type"); ct != "" {
		resp, err = uploadWithType(ctx, c, path, ct)
	} else {
		resp, err = c.UploadFile(ctx, path)
	}
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(resp, true)
	}
	return r.writePlain("uploaded %s\n%s\n", resp.Key, resp.Location)
}

// uploadWithType is UploadFile with an explicit content type.
func uploadWithType(ctx context.Context, c *client.Client, path, contentType string) (*upload.CompleteResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return c.Upload(ctx, filepath.Base(path), f, fi.Size(), contentType)
}

// Files lists finished uploads.
func (r *Runner) Files(ctx context.Context, cmd *cli.Command) error {
	files, err := r.client(cmd).Files(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(files, true)
	}
	if len(files) == 0 {
		return r.writePlain("no files\n")
	}

	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{f.Key, strconv.FormatInt(f.Size, 10), f.LastModified.Format(time.RFC3339)})
	}
	return r.writeTable([]string{"KEY", "SIZE", "LAST MODIFIED"}, rows)
}

// Sessions lists open upload sessions.
func (r *Runner) Sessions(ctx context.Context, cmd *cli.Command) error {
	sessions, err := r.client(cmd).Sessions(ctx)
	if err != nil {
		return err
	}
	return r.writeSessions(sessions, cmd.Bool("json"))
}

// Parts lists the parts stored for one open session.
func (r *Runner) Parts(ctx context.Context, cmd *cli.Command) error {
	sess := upload.Session{UploadID: cmd.String("upload-id"), Key: cmd.String("key")}
	parts, err := r.client(cmd).Parts(ctx, sess)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(parts, true)
	}
	if len(parts) == 0 {
		return r.writePlain("no parts\n")
	}

	rows := make([][]string, 0, len(parts))
	for _, p := range parts {
		rows = append(rows, []string{strconv.Itoa(int(p.PartNumber)), p.ETag, strconv.FormatInt(p.Size, 10)})
	}
	return r.writeTable([]string{"PART", "ETAG", "SIZE"}, rows)
}

// Abort discards an open session.
func (r *Runner) Abort(ctx context.Context, cmd *cli.Command) error {
	sess := upload.Session{UploadID: cmd.String("upload-id"), Key: cmd.String("key")}
	resp, err := r.client(cmd).Abort(ctx, sess)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(resp, true)
	}
	return r.writePlain("%s\n", resp.Message)
}

func (r *Runner) writeSessions(sessions []upload.OpenSession, asJSON bool) error {
	if asJSON {
		return r.writeJSON(sessions, true)
	}
	if len(sessions) == 0 {
		return r.writePlain("no sessions\n")
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{s.UploadID, s.Key, s.Initiated.Format(time.RFC3339)})
	}
	return r.writeTable([]string{"UPLOAD ID", "KEY", "INITIATED"}, rows)
}
