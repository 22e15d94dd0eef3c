// Package storage is the persistence gateway for the reconciliation
// pipeline. Reads are strict (an unreachable store fails the run), while
// writes are partitioned so that one bad group never loses a whole batch.
package storage

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-pg/pg/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"github.com/chansync/chansync/pkg/model"
	"github.com/chansync/chansync/pkg/report"
)

// Selects filter with IN lists of at most 100 IDs per query to stay clear
// of request size limits.
const selectBatchSize = 100

type Postgres struct {
	db       *pg.DB
	reporter report.Reporter
}

func NewPostgres(connectionURL string, reporter report.Reporter) (*Postgres, error) {
	opts, err := pg.ParseURL(connectionURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse database URL")
	}

	db := pg.Connect(opts)

	if err := db.Ping(context.Background()); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to check database connectivity")
	}

	return &Postgres{db: db, reporter: reporter}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// SavedVideos reads the saved state for exactly the given external IDs:
// association rows joined with their videos and thumbnails. IDs without an
// association are simply absent from the result.
func (p *Postgres) SavedVideos(ctx context.Context, externalIDs []string) ([]model.SavedVideo, error) {
	saved := make([]model.SavedVideo, 0, len(externalIDs))

	for len(externalIDs) > 0 {
		chunk := externalIDs
		if len(chunk) > selectBatchSize {
			chunk = chunk[:selectBatchSize]
		}
		externalIDs = externalIDs[len(chunk):]

		part, err := p.savedVideoChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}

		saved = append(saved, part...)
	}

	return saved, nil
}

func (p *Postgres) savedVideoChunk(ctx context.Context, externalIDs []string) ([]model.SavedVideo, error) {
	var assocs []model.Association
	err := p.db.ModelContext(ctx, &assocs).
		Where("external_id IN (?)", pg.In(externalIDs)).
		Select()
	if err != nil {
		return nil, errors.Wrap(err, "failed to query associations")
	}

	if len(assocs) == 0 {
		return nil, nil
	}

	videoIDs := make([]int64, 0, len(assocs))
	for _, a := range assocs {
		videoIDs = append(videoIDs, a.VideoID)
	}

	var videos []model.Video
	err = p.db.ModelContext(ctx, &videos).
		Where("id IN (?)", pg.In(videoIDs)).
		Select()
	if err != nil {
		return nil, errors.Wrap(err, "failed to query videos")
	}

	videoByID := make(map[int64]model.Video, len(videos))
	thumbnailIDs := make([]int64, 0, len(videos))
	for _, v := range videos {
		videoByID[v.ID] = v
		if v.ThumbnailID != nil {
			thumbnailIDs = append(thumbnailIDs, *v.ThumbnailID)
		}
	}

	thumbByID := make(map[int64]model.Thumbnail)
	if len(thumbnailIDs) > 0 {
		var thumbs []model.Thumbnail
		err = p.db.ModelContext(ctx, &thumbs).
			Where("id IN (?)", pg.In(thumbnailIDs)).
			Select()
		if err != nil {
			return nil, errors.Wrap(err, "failed to query thumbnails")
		}
		for _, t := range thumbs {
			thumbByID[t.ID] = t
		}
	}

	saved := make([]model.SavedVideo, 0, len(assocs))
	for _, a := range assocs {
		video, ok := videoByID[a.VideoID]
		if !ok {
			// Dangling association, not fatal but worth knowing about
			p.reporter.CaptureMessage("association points to missing video", map[string]string{
				"external_id": a.ExternalID,
				"video_id":    strconv.FormatInt(a.VideoID, 10),
			})
			continue
		}

		sv := model.SavedVideo{Video: video, ExternalID: a.ExternalID}
		if video.ThumbnailID != nil {
			if t, ok := thumbByID[*video.ThumbnailID]; ok {
				sv.Thumbnail = &t
			}
		}

		saved = append(saved, sv)
	}

	return saved, nil
}

// UpsertVideos persists a batch of change tuples, returning the subset
// that made it to the store with its external ID attached. The batch is
// partitioned into an update group (known internal ID) and an insert
// group, written concurrently with isolated failures.
//
// A bulk insert returns its rows in whatever order the store produced
// them, not necessarily submission order, so new internal IDs are never
// taken from the RETURNING scan. Each insert row carries a generated
// import token instead, and IDs are read back keyed by that token.
func (p *Postgres) UpsertVideos(ctx context.Context, changes []model.VideoChange) ([]model.SavedVideo, error) {
	if len(changes) == 0 {
		return nil, nil
	}

	updates, inserts := partitionChanges(changes)

	var (
		wg        sync.WaitGroup
		updateErr error
		insertErr error
	)

	if len(updates) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updateErr = p.upsertVideoGroup(ctx, updates)
		}()
	}

	if len(inserts) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			insertErr = p.insertVideoGroup(ctx, inserts)
		}()
	}

	wg.Wait()

	if updateErr != nil {
		p.reporter.CaptureError(updateErr, map[string]string{"component": "storage", "group": "update"})
		log.WithError(updateErr).Error("video update group failed")
	}
	if insertErr != nil {
		p.reporter.CaptureError(insertErr, map[string]string{"component": "storage", "group": "insert"})
		log.WithError(insertErr).Error("video insert group failed")
	}

	// Collect the tuples that reached the store, preserving input order
	persisted := make([]model.VideoChange, 0, len(changes))
	if updateErr == nil {
		persisted = append(persisted, updates...)
	}
	if insertErr == nil {
		persisted = append(persisted, inserts...)
	}

	if len(persisted) == 0 {
		return nil, nil
	}

	if err := p.upsertAssociations(ctx, persisted); err != nil {
		// Without association rows the new videos cannot be matched on
		// the next run, so nothing is confirmed to the caller.
		p.reporter.CaptureError(err, map[string]string{"component": "storage", "group": "association"})
		log.WithError(err).Error("association upsert failed")
		return nil, nil
	}

	saved := make([]model.SavedVideo, 0, len(persisted))
	for _, c := range persisted {
		saved = append(saved, model.SavedVideo{Video: *c.Video, ExternalID: c.ExternalID})
	}

	return saved, nil
}

func partitionChanges(changes []model.VideoChange) (updates, inserts []model.VideoChange) {
	for _, c := range changes {
		if c.Video.ID != 0 {
			updates = append(updates, c)
		} else {
			inserts = append(inserts, c)
		}
	}
	return
}

func (p *Postgres) upsertVideoGroup(ctx context.Context, group []model.VideoChange) error {
	videos := make([]*model.Video, 0, len(group))
	for _, c := range group {
		videos = append(videos, c.Video)
	}

	_, err := p.db.ModelContext(ctx, &videos).
		OnConflict("(id) DO UPDATE").
		Set("channel_id = EXCLUDED.channel_id").
		Set("thumbnail_id = EXCLUDED.thumbnail_id").
		Set("title = EXCLUDED.title").
		Set("duration = EXCLUDED.duration").
		Set("published_at = EXCLUDED.published_at").
		Set("status = EXCLUDED.status").
		Set("visible = EXCLUDED.visible").
		Set("deleted_at = EXCLUDED.deleted_at").
		Set("updated_at = EXCLUDED.updated_at").
		Insert()
	return errors.Wrap(err, "failed to upsert videos")
}

func (p *Postgres) insertVideoGroup(ctx context.Context, group []model.VideoChange) error {
	videos := make([]*model.Video, 0, len(group))
	byToken := make(map[string]*model.Video, len(group))
	for _, c := range group {
		token, err := shortid.Generate()
		if err != nil {
			return errors.Wrap(err, "failed to generate import token")
		}
		c.Video.ImportToken = token
		byToken[token] = c.Video
		videos = append(videos, c.Video)
	}

	if _, err := p.db.ModelContext(ctx, &videos).Insert(); err != nil {
		return errors.Wrap(err, "failed to insert videos")
	}

	tokens := make([]string, 0, len(byToken))
	for token := range byToken {
		tokens = append(tokens, token)
	}

	var stored []model.Video
	err := p.db.ModelContext(ctx, &stored).
		Column("id", "import_token").
		Where("import_token IN (?)", pg.In(tokens)).
		Select()
	if err != nil {
		return errors.Wrap(err, "failed to read back inserted videos")
	}

	return assignVideoIDs(byToken, stored)
}

// assignVideoIDs copies the generated IDs onto the submitted structs,
// matched by import token. Row order coming back from the store carries
// no meaning here.
func assignVideoIDs(byToken map[string]*model.Video, stored []model.Video) error {
	if len(stored) != len(byToken) {
		return errors.Errorf("inserted %d videos but read back %d", len(byToken), len(stored))
	}

	for _, row := range stored {
		video, ok := byToken[row.ImportToken]
		if !ok {
			return errors.Errorf("read back unknown import token %q", row.ImportToken)
		}
		video.ID = row.ID
	}

	return nil
}

func (p *Postgres) upsertAssociations(ctx context.Context, changes []model.VideoChange) error {
	assocs := make([]*model.Association, 0, len(changes))
	for _, c := range changes {
		assocs = append(assocs, &model.Association{
			VideoID:    c.Video.ID,
			ExternalID: c.ExternalID,
		})
	}

	_, err := p.db.ModelContext(ctx, &assocs).
		OnConflict("(video_id) DO UPDATE").
		Set("external_id = EXCLUDED.external_id").
		Insert()
	return errors.Wrap(err, "failed to upsert associations")
}

// UpsertThumbnails persists thumbnail descriptors with the same split
// update/insert strategy as videos. Inserted descriptors get their IDs
// read back keyed by storage path, which is unique per upload.
func (p *Postgres) UpsertThumbnails(ctx context.Context, thumbs []*model.Thumbnail) ([]*model.Thumbnail, error) {
	if len(thumbs) == 0 {
		return nil, nil
	}

	var updates, inserts []*model.Thumbnail
	for _, t := range thumbs {
		if t.ID != 0 {
			updates = append(updates, t)
		} else {
			inserts = append(inserts, t)
		}
	}

	var (
		wg        sync.WaitGroup
		updateErr error
		insertErr error
	)

	if len(updates) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.db.ModelContext(ctx, &updates).
				OnConflict("(id) DO UPDATE").
				Set("path = EXCLUDED.path").
				Set("blur_data_url = EXCLUDED.blur_data_url").
				Set("etag = EXCLUDED.etag").
				Set("width = EXCLUDED.width").
				Set("height = EXCLUDED.height").
				Set("deleted_at = EXCLUDED.deleted_at").
				Set("updated_at = EXCLUDED.updated_at").
				Insert()
			updateErr = errors.Wrap(err, "failed to upsert thumbnails")
		}()
	}

	if len(inserts) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			insertErr = p.insertThumbnailGroup(ctx, inserts)
		}()
	}

	wg.Wait()

	if updateErr != nil {
		p.reporter.CaptureError(updateErr, map[string]string{"component": "storage", "group": "thumbnail-update"})
		log.WithError(updateErr).Error("thumbnail update group failed")
	}
	if insertErr != nil {
		p.reporter.CaptureError(insertErr, map[string]string{"component": "storage", "group": "thumbnail-insert"})
		log.WithError(insertErr).Error("thumbnail insert group failed")
	}

	persisted := make([]*model.Thumbnail, 0, len(thumbs))
	if updateErr == nil {
		persisted = append(persisted, updates...)
	}
	if insertErr == nil {
		persisted = append(persisted, inserts...)
	}

	return persisted, nil
}

func (p *Postgres) insertThumbnailGroup(ctx context.Context, inserts []*model.Thumbnail) error {
	if _, err := p.db.ModelContext(ctx, &inserts).Insert(); err != nil {
		return errors.Wrap(err, "failed to insert thumbnails")
	}

	paths := make([]string, 0, len(inserts))
	for _, t := range inserts {
		paths = append(paths, t.Path)
	}

	var stored []model.Thumbnail
	err := p.db.ModelContext(ctx, &stored).
		Column("id", "path").
		Where("path IN (?)", pg.In(paths)).
		Select()
	if err != nil {
		return errors.Wrap(err, "failed to read back inserted thumbnails")
	}

	return assignThumbnailIDs(inserts, stored)
}

func assignThumbnailIDs(inserts []*model.Thumbnail, stored []model.Thumbnail) error {
	if len(stored) != len(inserts) {
		return errors.Errorf("inserted %d thumbnails but read back %d", len(inserts), len(stored))
	}

	byPath := make(map[string]*model.Thumbnail, len(inserts))
	for _, t := range inserts {
		byPath[t.Path] = t
	}

	for _, row := range stored {
		thumb, ok := byPath[row.Path]
		if !ok {
			return errors.Errorf("read back unknown thumbnail path %q", row.Path)
		}
		thumb.ID = row.ID
	}

	return nil
}
