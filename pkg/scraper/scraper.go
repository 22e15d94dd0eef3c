// Package scraper reconciles a channel's published-video catalog against
// the saved state: it fetches the external listing, diffs every video,
// refreshes thumbnail assets and persists the resulting change set.
package scraper

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/chansync/chansync/pkg/model"
	"github.com/chansync/chansync/pkg/report"
)

// VideoSource lists a channel's uploaded videos on the external platform.
type VideoSource interface {
	UploadsPlaylistID(ctx context.Context, channelID string) (string, error)
	ListUploadedVideoIDs(ctx context.Context, playlistID string) ([]string, error)
	VideoDetails(ctx context.Context, ids []string) ([]model.ExternalVideo, error)
}

// Storage is the persistence gateway consumed by the scraper.
type Storage interface {
	SavedVideos(ctx context.Context, externalIDs []string) ([]model.SavedVideo, error)
	UpsertVideos(ctx context.Context, changes []model.VideoChange) ([]model.SavedVideo, error)
}

// Thumbnails runs the asset pipeline for a batch of videos and returns
// the resulting descriptors keyed by external video ID.
type Thumbnails interface {
	UploadAll(ctx context.Context, videos []model.ExternalVideo, saved map[string]model.SavedVideo) (map[string]model.Thumbnail, error)
}

type Options struct {
	// Channel is the saved channel row the videos belong to
	Channel model.Channel
	// ExternalChannelID is the platform's channel identifier
	ExternalChannelID string
	// DryRun computes diffs but suppresses every write
	DryRun bool
	// Now fixes the reference time of the pass; zero means wall clock
	Now time.Time
}

type Scraper struct {
	source   VideoSource
	db       Storage
	thumbs   Thumbnails
	reporter report.Reporter
	opts     Options
}

func New(source VideoSource, db Storage, thumbs Thumbnails, reporter report.Reporter, opts Options) *Scraper {
	return &Scraper{
		source:   source,
		db:       db,
		thumbs:   thumbs,
		reporter: reporter,
		opts:     opts,
	}
}

func (s *Scraper) now() time.Time {
	if s.opts.Now.IsZero() {
		return time.Now().UTC()
	}
	return s.opts.Now
}

// Scrape runs one reconciliation pass and returns the videos that were
// persisted, each carrying its external ID. An empty result means nothing
// changed or the pass ran dry.
//
// Listing the external catalog and reading saved state are fatal on
// failure; from there on, failures are isolated per video or per write
// group and reported, never aborting the pass.
func (s *Scraper) Scrape(ctx context.Context) ([]model.SavedVideo, error) {
	logger := log.WithField("channel", s.opts.Channel.Name)

	videos, err := s.externalVideos(ctx)
	if err != nil {
		return nil, err
	}

	if len(videos) == 0 {
		logger.Info("channel has no videos, nothing to do")
		return nil, nil
	}

	externalIDs := make([]string, 0, len(videos))
	for _, v := range videos {
		externalIDs = append(externalIDs, v.ID)
	}

	saved, err := s.db.SavedVideos(ctx, externalIDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read saved state")
	}

	savedByID := make(map[string]model.SavedVideo, len(saved))
	for _, sv := range saved {
		savedByID[sv.ExternalID] = sv
	}

	thumbs, err := s.thumbs.UploadAll(ctx, videos, savedByID)
	if err != nil {
		// Thumbnails degrade the catalog, they don't gate it
		s.reporter.CaptureError(err, map[string]string{"component": "scraper", "stage": "thumbnails"})
		logger.WithError(err).Warn("thumbnail batch failed")
		thumbs = nil
	}

	changes := make([]model.VideoChange, 0, len(videos))
	for _, v := range videos {
		video := s.diff(v, savedByID, thumbs)
		if video == nil {
			continue
		}
		changes = append(changes, model.VideoChange{Video: video, ExternalID: v.ID})
	}

	logger.Infof("observed %d video(s), %d changed", len(videos), len(changes))

	if s.opts.DryRun || len(changes) == 0 {
		return nil, nil
	}

	persisted, err := s.db.UpsertVideos(ctx, changes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert videos")
	}

	if len(persisted) < len(changes) {
		logger.Warnf("only %d of %d change(s) persisted", len(persisted), len(changes))
	}

	return persisted, nil
}

// externalVideos materializes the channel's full catalog for this pass:
// uploads playlist resolution, paged ID listing, batched detail fetch.
func (s *Scraper) externalVideos(ctx context.Context) ([]model.ExternalVideo, error) {
	playlistID, err := s.source.UploadsPlaylistID(ctx, s.opts.ExternalChannelID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve uploads playlist")
	}

	ids, err := s.source.ListUploadedVideoIDs(ctx, playlistID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list uploaded videos")
	}

	if len(ids) == 0 {
		return nil, nil
	}

	videos, err := s.source.VideoDetails(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch video details")
	}

	return videos, nil
}

// diff computes the change record of one external video against its saved
// counterpart. Nil means either no change needed or the video was skipped
// as malformed.
func (s *Scraper) diff(v model.ExternalVideo, savedByID map[string]model.SavedVideo, thumbs map[string]model.Thumbnail) *model.Video {
	if v.PublishedAt == nil {
		s.reporter.CaptureMessage("video without publish date skipped", map[string]string{
			"component":   "scraper",
			"external_id": v.ID,
		})
		log.WithField("external_id", v.ID).Warn("skipping video without publish date")
		return nil
	}

	now := s.now()

	saved, exists := savedByID[v.ID]

	var thumbnailID *int64
	if t, ok := thumbs[v.ID]; ok && t.ID != 0 {
		id := t.ID
		thumbnailID = &id
	} else if exists {
		thumbnailID = saved.Video.ThumbnailID
	}

	if !exists {
		return &model.Video{
			ChannelID:   s.opts.Channel.ID,
			ThumbnailID: thumbnailID,
			Title:       v.Title,
			Duration:    v.Duration,
			PublishedAt: *v.PublishedAt,
			Status:      v.Status,
			Visible:     true,
			UpdatedAt:   now,
		}
	}

	prev := saved.Video
	unchanged := prev.Status == v.Status &&
		prev.Duration == v.Duration &&
		prev.PublishedAt.Equal(*v.PublishedAt) &&
		sameID(prev.ThumbnailID, thumbnailID) &&
		prev.Title == v.Title &&
		!prev.Deleted()

	if unchanged {
		return nil
	}

	next := prev
	next.Title = v.Title
	next.Duration = v.Duration
	next.PublishedAt = *v.PublishedAt
	next.Status = v.Status
	next.ThumbnailID = thumbnailID
	// Observed again, so any tombstone is cleared
	next.DeletedAt = nil
	next.UpdatedAt = now

	return &next
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
