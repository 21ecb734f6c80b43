package changesets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrAmbiguousUser is returned when a query names both or neither of user
// name and uid.
var ErrAmbiguousUser = errors.New("exactly one of user name and uid must be given")

// API is the read side of the changeset API. *osmapi.Client implements it.
type API interface {
	QueryChangesets(ctx context.Context, query url.Values) ([]byte, error)
	DownloadChangeset(ctx context.Context, id int64) ([]byte, error)
}

// Query selects the changesets of one mapper in a time window.
type Query struct {
	User  string
	UID   int64
	Since time.Time
	To    time.Time
}

func (q Query) validate() error {
	if (q.User == "") == (q.UID == 0) {
		return ErrAmbiguousUser
	}
	if q.Since.IsZero() {
		return errors.New("since is required")
	}
	if !q.Since.Before(q.To) {
		return fmt.Errorf("since %s is not before %s", q.Since.Format(TimeFormat), q.To.Format(TimeFormat))
	}
	return nil
}

func (q Query) values(to time.Time) url.Values {
	v := url.Values{}
	if q.User != "" {
		v.Set("display_name", q.User)
	} else {
		v.Set("user", strconv.FormatInt(q.UID, 10))
	}
	v.Set("time", q.Since.UTC().Format(TimeFormat)+","+to.UTC().Format(TimeFormat))
	return v
}

// List pages backwards through the changesets matched by q, newest first, and
// calls fn once per changeset. Each page ends where the oldest changeset of
// the previous page was created; listing stops at an empty page.
func List(ctx context.Context, api API, q Query, logger *slog.Logger, fn func(Changeset) error) error {
	if q.To.IsZero() {
		q.To = time.Now().UTC()
	}
	if err := q.validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[int64]struct{})
	to := q.To
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("downloading changeset list", "before", to.Format(TimeFormat))
		body, err := api.QueryChangesets(ctx, q.values(to))
		if err != nil {
			return err
		}
		page, err := Decode(bytes.NewReader(body))
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		oldest := to
		fresh := 0
		for _, cs := range page {
			if !cs.CreatedAt.IsZero() && cs.CreatedAt.Before(oldest) {
				oldest = cs.CreatedAt
			}
			if _, ok := seen[cs.ID]; ok {
				continue
			}
			seen[cs.ID] = struct{}{}
			fresh++
			if err := fn(cs); err != nil {
				return err
			}
		}
		// A page of already seen changesets cannot move the window.
		if fresh == 0 || !oldest.Before(to) {
			return nil
		}
		to = oldest
	}
}

// Save downloads the osmChange document of changeset id into dir as
// c<id>.osc and returns the file path.
func Save(ctx context.Context, api API, id int64, dir string) (string, error) {
	data, err := api.DownloadChangeset(ctx, id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("c%d.osc", id))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
