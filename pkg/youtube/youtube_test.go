package youtube

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/youtube/v3"

	"github.com/chansync/chansync/pkg/model"
)

var now = time.Date(2023, time.June, 1, 12, 0, 0, 0, time.UTC)

func TestYT_LiveStatus(t *testing.T) {
	tests := []struct {
		name    string
		details *youtube.VideoLiveStreamingDetails
		want    model.Status
	}{
		{"regular upload", nil, model.StatusNormal},
		{
			"finished stream",
			&youtube.VideoLiveStreamingDetails{
				ActualStartTime: "2023-06-01T10:00:00Z",
				ActualEndTime:   "2023-06-01T11:00:00Z",
			},
			model.StatusEnded,
		},
		{
			"running stream",
			&youtube.VideoLiveStreamingDetails{ActualStartTime: "2023-06-01T10:00:00Z"},
			model.StatusLive,
		},
		{
			"scheduled stream",
			&youtube.VideoLiveStreamingDetails{ScheduledStartTime: "2023-06-02T10:00:00Z"},
			model.StatusUpcoming,
		},
		{
			"start time in the future",
			&youtube.VideoLiveStreamingDetails{ActualStartTime: "2023-06-01T13:00:00Z"},
			model.StatusUpcoming,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, liveStatus(tc.details, now))
		})
	}
}

func TestYT_PublishedAt(t *testing.T) {
	item := &youtube.Video{
		Id:      "video1",
		Snippet: &youtube.VideoSnippet{PublishedAt: "2023-05-01T00:00:00Z"},
	}

	got := publishedAt(item)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2023, time.May, 1, 0, 0, 0, 0, time.UTC), got.UTC())

	// Scheduled start wins over the generic publication date
	item.LiveStreamingDetails = &youtube.VideoLiveStreamingDetails{
		ScheduledStartTime: "2023-05-02T00:00:00Z",
	}
	got = publishedAt(item)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2023, time.May, 2, 0, 0, 0, 0, time.UTC), got.UTC())

	// Actual start wins over everything
	item.LiveStreamingDetails.ActualStartTime = "2023-05-03T00:00:00Z"
	got = publishedAt(item)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2023, time.May, 3, 0, 0, 0, 0, time.UTC), got.UTC())
}

func TestYT_PublishedAtMissing(t *testing.T) {
	item := &youtube.Video{
		Id:      "video1",
		Snippet: &youtube.VideoSnippet{},
	}

	assert.Nil(t, publishedAt(item))

	item.Snippet.PublishedAt = "not-a-date"
	assert.Nil(t, publishedAt(item))
}

func TestYT_VideoDuration(t *testing.T) {
	item := &youtube.Video{Id: "video1"}
	assert.Equal(t, model.DefaultDuration, videoDuration(item))

	item.ContentDetails = &youtube.VideoContentDetails{Duration: "PT1H2M3S"}
	assert.Equal(t, "PT1H2M3S", videoDuration(item))

	item.ContentDetails.Duration = "garbage"
	assert.Equal(t, model.DefaultDuration, videoDuration(item))
}

func TestYT_SelectPreview(t *testing.T) {
	details := &youtube.ThumbnailDetails{
		Default: &youtube.Thumbnail{Url: "default.jpg", Width: 120, Height: 90},
		Medium:  &youtube.Thumbnail{Url: "medium.jpg", Width: 320, Height: 180},
	}

	preview := selectPreview(details)
	assert.Equal(t, "medium.jpg", preview.URL)
	assert.EqualValues(t, 320, preview.Width)

	details.Maxres = &youtube.Thumbnail{Url: "maxres.jpg", Width: 1280, Height: 720}
	preview = selectPreview(details)
	assert.Equal(t, "maxres.jpg", preview.URL)
	assert.EqualValues(t, 1280, preview.Width)

	assert.Equal(t, model.Preview{}, selectPreview(nil))
}

func TestYT_ExternalVideo(t *testing.T) {
	item := &youtube.Video{
		Id: "video1",
		Snippet: &youtube.VideoSnippet{
			Title:       "First stream",
			PublishedAt: "2023-05-01T00:00:00Z",
			Thumbnails: &youtube.ThumbnailDetails{
				High: &youtube.Thumbnail{Url: "high.jpg", Width: 480, Height: 360},
			},
		},
		ContentDetails: &youtube.VideoContentDetails{Duration: "PT10M"},
	}

	video := externalVideo(item, now)
	assert.Equal(t, "video1", video.ID)
	assert.Equal(t, "First stream", video.Title)
	assert.Equal(t, "PT10M", video.Duration)
	assert.Equal(t, model.StatusNormal, video.Status)
	assert.Equal(t, "high.jpg", video.Preview.URL)
	require.NotNil(t, video.PublishedAt)
}
