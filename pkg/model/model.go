package model

import "time"

// Status is a video lifecycle status derived from the external API's
// live-streaming fields relative to the time of ingestion.
type Status string

const (
	StatusUpcoming = Status("upcoming")
	StatusLive     = Status("live")
	StatusEnded    = Status("ended")
	StatusNormal   = Status("normal")
)

// DefaultDuration is stored when the external API doesn't report a
// duration yet (upcoming and not-yet-finished live videos).
const DefaultDuration = "P0D"

// Channel is an already-resolved ingestion target. Channels are managed
// outside of the scraper and are read-only from its perspective.
type Channel struct {
	tableName struct{} `pg:"channels"`

	ID   int64 `pg:",pk"`
	Name string
}

// Video is a persisted video row. ID is assigned by the store on first
// insert and never changes afterwards.
type Video struct {
	tableName struct{} `pg:"videos"`

	ID          int64 `pg:",pk"`
	ChannelID   int64
	ThumbnailID *int64
	Title       string
	// Duration is an ISO-8601 duration string as reported by the external API
	Duration    string
	PublishedAt time.Time
	Status      Status
	// use_zero keeps an explicit false from falling back to the column default
	Visible   bool `pg:",use_zero"`
	DeletedAt *time.Time
	UpdatedAt time.Time
	// ImportToken correlates a freshly inserted row with the struct that
	// produced it, independent of the order the store returns rows in.
	ImportToken string
}

// Deleted reports whether the row carries a soft-delete tombstone.
func (v *Video) Deleted() bool {
	return v.DeletedAt != nil
}

// Thumbnail is a persisted image asset descriptor.
type Thumbnail struct {
	tableName struct{} `pg:"thumbnails"`

	ID   int64 `pg:",pk"`
	Path string
	// BlurDataURL is a tiny base64-encoded preview shown while the full image loads
	BlurDataURL string
	Etag        string
	Width       int64
	Height      int64
	DeletedAt   *time.Time
	UpdatedAt   time.Time
}

func (t *Thumbnail) Deleted() bool {
	return t.DeletedAt != nil
}

// Association links an internal video ID to the external platform's video
// ID. There is exactly one live row per video, and replacing the external
// ID for the same video is an idempotent correction, never a duplicate.
type Association struct {
	tableName struct{} `pg:"video_external_associations"`

	ID         int64 `pg:",pk"`
	VideoID    int64
	ExternalID string
}

// Preview describes the source image of a video, preferring the highest
// resolution variant the external API offers.
type Preview struct {
	URL    string
	Width  int64
	Height int64
}

// ExternalVideo is a video as reported by the external API. It lives for
// a single scrape pass and is never persisted directly.
type ExternalVideo struct {
	// ID is the external platform's immutable video identifier
	ID          string
	Title       string
	PublishedAt *time.Time
	Duration    string
	Preview     Preview
	Status      Status
}

// SavedVideo is the read-side composite of a video, its thumbnail and its
// external association. The scraper uses it as a diff baseline only.
type SavedVideo struct {
	Video      Video
	Thumbnail  *Thumbnail
	ExternalID string
}

// VideoChange is a pending write paired with the external ID that
// produced it. The pair travels through the persistence gateway as one
// unit so the association can never be lost to reordering.
type VideoChange struct {
	Video      *Video
	ExternalID string
}
