// Package thumbnail manages the derived image asset of each video:
// conditional download, placeholder generation, object-store upload and
// descriptor persistence.
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"github.com/chansync/chansync/pkg/fs"
	"github.com/chansync/chansync/pkg/model"
	"github.com/chansync/chansync/pkg/report"
	"github.com/chansync/chansync/pkg/worker"
)

const (
	// Saved thumbnails younger than this are not re-checked unless they
	// carry a soft-delete tombstone.
	refreshInterval = 5 * time.Minute

	maxConcurrentUploads = 12
	dispatchInterval     = 250 * time.Millisecond
)

// Store persists thumbnail descriptors.
type Store interface {
	UpsertThumbnails(ctx context.Context, thumbs []*model.Thumbnail) ([]*model.Thumbnail, error)
}

// Service runs the per-video asset pipeline.
type Service struct {
	client   *http.Client
	objects  fs.Storage
	db       Store
	reporter report.Reporter
	pool     *worker.Pool
	dryRun   bool
	now      func() time.Time
}

func New(client *http.Client, objects fs.Storage, db Store, reporter report.Reporter, dryRun bool) *Service {
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}

	return &Service{
		client:   client,
		objects:  objects,
		db:       db,
		reporter: reporter,
		pool:     worker.NewPool(maxConcurrentUploads, dispatchInterval),
		dryRun:   dryRun,
		now:      time.Now,
	}
}

// Upload produces a new or updated thumbnail descriptor for the video, or
// nil when the saved one is still good. A soft-deleted previous descriptor
// is always re-validated against the source, regardless of its age, and
// resurrected once the source confirms availability.
func (s *Service) Upload(ctx context.Context, video model.ExternalVideo, prev *model.Thumbnail) (*model.Thumbnail, error) {
	now := s.now()

	if prev != nil && !prev.Deleted() && now.Sub(prev.UpdatedAt) < refreshInterval {
		return nil, nil
	}

	if video.Preview.URL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, video.Preview.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build preview request")
	}
	if prev != nil && prev.Etag != "" {
		req.Header.Set("If-None-Match", prev.Etag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch preview %s", video.Preview.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		// Drain the body so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return s.revalidated(prev, resp.Header.Get("Etag"), now), nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d fetching %s", resp.StatusCode, video.Preview.URL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read preview body")
	}

	contentType := resp.Header.Get("Content-Type")
	path, err := storagePath(video.ID, contentType)
	if err != nil {
		return nil, err
	}

	if s.dryRun {
		log.WithField("path", path).Debug("dry run, skipping object upload")
	} else {
		if _, err := s.objects.Create(ctx, path, contentType, bytes.NewReader(body)); err != nil {
			return nil, errors.Wrapf(err, "failed to upload %s", path)
		}

		// The new object is in place, the old one is an orphan now
		if prev != nil && prev.Path != "" && prev.Path != path {
			if err := s.objects.Delete(ctx, prev.Path); err != nil {
				log.WithError(err).WithField("path", prev.Path).Warn("failed to delete superseded thumbnail object")
			}
		}
	}

	blur, err := blurDataURL(body)
	if err != nil {
		// A missing placeholder degrades the UI, not the catalog
		log.WithError(err).WithField("video_id", video.ID).Warn("failed to build blur placeholder")
	}

	thumb := &model.Thumbnail{
		Path:        path,
		BlurDataURL: blur,
		Etag:        resp.Header.Get("Etag"),
		Width:       video.Preview.Width,
		Height:      video.Preview.Height,
		UpdatedAt:   now,
	}
	if prev != nil {
		thumb.ID = prev.ID
	}

	return thumb, nil
}

// revalidated handles the not-modified path: the saved image is still
// current, so the descriptor changes only if a tombstone must be cleared
// or a missing ETag can now be recorded.
func (s *Service) revalidated(prev *model.Thumbnail, etag string, now time.Time) *model.Thumbnail {
	if prev == nil {
		return nil
	}

	if !prev.Deleted() && prev.Etag != "" {
		return nil
	}

	thumb := *prev
	thumb.DeletedAt = nil
	thumb.UpdatedAt = now
	if thumb.Etag == "" {
		thumb.Etag = etag
	}

	return &thumb
}

// UploadAll runs Upload for every video under the bounded pool, persists
// the resulting descriptors and returns them keyed by the external video
// ID encoded in the storage path prefix. Individual failures are reported
// and excluded without blocking siblings.
func (s *Service) UploadAll(ctx context.Context, videos []model.ExternalVideo, saved map[string]model.SavedVideo) (map[string]model.Thumbnail, error) {
	results := make([]*model.Thumbnail, len(videos))

	tasks := make([]func(context.Context) error, len(videos))
	for i, video := range videos {
		i, video := i, video
		tasks[i] = func(ctx context.Context) error {
			var prev *model.Thumbnail
			if sv, ok := saved[video.ID]; ok {
				prev = sv.Thumbnail
			}

			thumb, err := s.Upload(ctx, video, prev)
			if err != nil {
				return errors.Wrapf(err, "failed to process thumbnail of %s", video.ID)
			}

			results[i] = thumb
			return nil
		}
	}

	for i, err := range s.pool.Run(ctx, tasks) {
		if err == nil {
			continue
		}
		s.reporter.CaptureError(err, map[string]string{"component": "thumbnail", "video_id": videos[i].ID})
		log.WithError(err).WithField("video_id", videos[i].ID).Warn("thumbnail upload failed")
	}

	changed := make([]*model.Thumbnail, 0, len(results))
	for _, t := range results {
		if t != nil {
			changed = append(changed, t)
		}
	}

	if len(changed) == 0 {
		return map[string]model.Thumbnail{}, nil
	}

	if !s.dryRun {
		persisted, err := s.db.UpsertThumbnails(ctx, changed)
		if err != nil {
			return nil, errors.Wrap(err, "failed to persist thumbnails")
		}
		changed = persisted
	}

	byExternalID := make(map[string]model.Thumbnail, len(changed))
	for _, t := range changed {
		externalID, _, ok := strings.Cut(t.Path, "/")
		if !ok {
			continue
		}
		byExternalID[externalID] = *t
	}

	return byExternalID, nil
}

// storagePath builds a unique object key scoped under the external video
// ID, so every upload gets a fresh cache-friendly location.
func storagePath(externalID, contentType string) (string, error) {
	token, err := shortid.Generate()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate path token")
	}

	return fmt.Sprintf("%s/%s.%s", externalID, token, extensionFor(contentType)), nil
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "jpg"
	}

	switch mediaType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}
