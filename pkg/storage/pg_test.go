package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chansync/chansync/pkg/model"
	"github.com/chansync/chansync/pkg/report"
)

var testURL = os.Getenv("CHANSYNC_TEST_DATABASE_URL")

func TestPG_PartitionChanges(t *testing.T) {
	changes := []model.VideoChange{
		{Video: &model.Video{ID: 1}, ExternalID: "a"},
		{Video: &model.Video{}, ExternalID: "b"},
		{Video: &model.Video{ID: 2}, ExternalID: "c"},
		{Video: &model.Video{}, ExternalID: "d"},
	}

	updates, inserts := partitionChanges(changes)

	require.Len(t, updates, 2)
	require.Len(t, inserts, 2)
	assert.Equal(t, "a", updates[0].ExternalID)
	assert.Equal(t, "c", updates[1].ExternalID)
	assert.Equal(t, "b", inserts[0].ExternalID)
	assert.Equal(t, "d", inserts[1].ExternalID)
}

func TestPG_PartitionEmpty(t *testing.T) {
	updates, inserts := partitionChanges(nil)
	assert.Empty(t, updates)
	assert.Empty(t, inserts)
}

func TestPG_AssignVideoIDsShuffled(t *testing.T) {
	first := &model.Video{Title: "first", ImportToken: "tok1"}
	second := &model.Video{Title: "second", ImportToken: "tok2"}
	third := &model.Video{Title: "third", ImportToken: "tok3"}

	byToken := map[string]*model.Video{
		"tok1": first,
		"tok2": second,
		"tok3": third,
	}

	// Rows come back in an order unrelated to submission
	stored := []model.Video{
		{ID: 30, ImportToken: "tok3"},
		{ID: 10, ImportToken: "tok1"},
		{ID: 20, ImportToken: "tok2"},
	}

	require.NoError(t, assignVideoIDs(byToken, stored))
	assert.EqualValues(t, 10, first.ID)
	assert.EqualValues(t, 20, second.ID)
	assert.EqualValues(t, 30, third.ID)
}

func TestPG_AssignVideoIDsMismatch(t *testing.T) {
	byToken := map[string]*model.Video{"tok1": {ImportToken: "tok1"}}

	err := assignVideoIDs(byToken, nil)
	assert.Error(t, err, "count mismatch must fail the group")

	err = assignVideoIDs(byToken, []model.Video{{ID: 1, ImportToken: "other"}})
	assert.Error(t, err, "unknown token must fail the group")
}

func TestPG_AssignThumbnailIDsShuffled(t *testing.T) {
	a := &model.Thumbnail{Path: "ext1/a.jpg"}
	b := &model.Thumbnail{Path: "ext2/b.jpg"}

	stored := []model.Thumbnail{
		{ID: 2, Path: "ext2/b.jpg"},
		{ID: 1, Path: "ext1/a.jpg"},
	}

	require.NoError(t, assignThumbnailIDs([]*model.Thumbnail{a, b}, stored))
	assert.EqualValues(t, 1, a.ID)
	assert.EqualValues(t, 2, b.ID)

	assert.Error(t, assignThumbnailIDs([]*model.Thumbnail{a}, nil))
}

func createDatabase(t *testing.T) *Postgres {
	if testURL == "" {
		t.Skip("test database URL is not provided")
	}

	p, err := NewPostgres(testURL, report.Log{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	require.NoError(t, p.Migrate(ctx))

	for _, stmt := range []string{
		"DELETE FROM video_external_associations",
		"DELETE FROM videos",
		"DELETE FROM thumbnails",
		"DELETE FROM channels",
		"INSERT INTO channels (id, name) VALUES (1, 'test channel')",
	} {
		_, err := p.db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	return p
}

func TestPG_UpsertVideosInsert(t *testing.T) {
	p := createDatabase(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	changes := []model.VideoChange{
		{Video: newTestVideo("first", now), ExternalID: "ext1"},
		{Video: newTestVideo("second", now), ExternalID: "ext2"},
		{Video: newTestVideo("third", now), ExternalID: "ext3"},
	}

	saved, err := p.UpsertVideos(ctx, changes)
	require.NoError(t, err)
	require.Len(t, saved, 3)

	titles := map[string]string{}
	for _, sv := range saved {
		assert.NotZero(t, sv.Video.ID)
		titles[sv.ExternalID] = sv.Video.Title
	}

	// Every returned video carries the external ID it was submitted with
	assert.Equal(t, "first", titles["ext1"])
	assert.Equal(t, "second", titles["ext2"])
	assert.Equal(t, "third", titles["ext3"])
}

func TestPG_UpsertVideosMixed(t *testing.T) {
	p := createDatabase(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	saved, err := p.UpsertVideos(ctx, []model.VideoChange{
		{Video: newTestVideo("old title", now), ExternalID: "ext1"},
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	existing := saved[0].Video
	existing.Title = "new title"

	saved, err = p.UpsertVideos(ctx, []model.VideoChange{
		{Video: &existing, ExternalID: "ext1"},
		{Video: newTestVideo("brand new", now), ExternalID: "ext2"},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)

	state, err := p.SavedVideos(ctx, []string{"ext1", "ext2"})
	require.NoError(t, err)
	require.Len(t, state, 2)

	byExternal := map[string]model.SavedVideo{}
	for _, sv := range state {
		byExternal[sv.ExternalID] = sv
	}

	assert.Equal(t, existing.ID, byExternal["ext1"].Video.ID, "internal ID must not change on update")
	assert.Equal(t, "new title", byExternal["ext1"].Video.Title)
	assert.Equal(t, "brand new", byExternal["ext2"].Video.Title)
	assert.NotEqual(t, byExternal["ext1"].Video.ID, byExternal["ext2"].Video.ID)
}

func TestPG_AssociationIdempotent(t *testing.T) {
	p := createDatabase(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	saved, err := p.UpsertVideos(ctx, []model.VideoChange{
		{Video: newTestVideo("video", now), ExternalID: "ext1"},
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	// Re-upserting the same tuple must not create a second association row
	v := saved[0].Video
	_, err = p.UpsertVideos(ctx, []model.VideoChange{{Video: &v, ExternalID: "ext1"}})
	require.NoError(t, err)

	count, err := p.db.ModelContext(ctx, (*model.Association)(nil)).Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPG_SavedVideosUnknownIDs(t *testing.T) {
	p := createDatabase(t)

	saved, err := p.SavedVideos(context.Background(), []string{"nope1", "nope2"})
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestPG_UpsertThumbnails(t *testing.T) {
	p := createDatabase(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	thumbs := []*model.Thumbnail{
		{Path: "ext1/abc.jpg", Etag: `"v1"`, Width: 1280, Height: 720, UpdatedAt: now},
	}

	persisted, err := p.UpsertThumbnails(ctx, thumbs)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	require.NotZero(t, persisted[0].ID)

	// Update pass: same row, new etag
	persisted[0].Etag = `"v2"`
	again, err := p.UpsertThumbnails(ctx, persisted)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, persisted[0].ID, again[0].ID)

	var stored model.Thumbnail
	err = p.db.ModelContext(ctx, &stored).Where("id = ?", persisted[0].ID).Select()
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, stored.Etag)
}

func newTestVideo(title string, now time.Time) *model.Video {
	return &model.Video{
		ChannelID:   1,
		Title:       title,
		Duration:    "PT10M",
		PublishedAt: now,
		Status:      model.StatusNormal,
		Visible:     true,
		UpdatedAt:   now,
	}
}
