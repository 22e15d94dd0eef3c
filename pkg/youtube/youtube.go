// Package youtube fetches a channel's uploaded-video catalog from the
// YouTube Data API v3.
package youtube

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BrianHicks/finch/duration"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/chansync/chansync/pkg/model"
)

// API limit for both playlist pages and joined video ID lists.
const maxResults = 50

var ErrNotFound = errors.New("resource not found")

// Client wraps the YouTube API for catalog ingestion. It holds network
// resources and must be closed after use.
type Client struct {
	service *youtube.Service
	http    *http.Client
	now     func() time.Time
}

func New(ctx context.Context, apiKey string) (*Client, error) {
	httpClient := &http.Client{
		Transport: &transport.APIKey{Key: apiKey},
		Timeout:   time.Minute,
	}

	service, err := youtube.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create youtube client")
	}

	return &Client{
		service: service,
		http:    httpClient,
		now:     time.Now,
	}, nil
}

// Close releases idle network connections held by the client.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// UploadsPlaylistID resolves the playlist holding every upload of the
// given channel.
//
// Cost: 3 units (call: 1, contentDetails: 2)
func (c *Client) UploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	resp, err := c.service.Channels.
		List([]string{"contentDetails"}).
		Id(channelID).
		Context(ctx).
		Do()
	if err != nil {
		return "", errors.Wrapf(err, "failed to query channel %q", channelID)
	}

	if len(resp.Items) == 0 {
		return "", ErrNotFound
	}

	return resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// ListUploadedVideoIDs pages through the uploads playlist and returns
// every video ID, newest first.
//
// Cost: 3 units per page of 50
func (c *Client) ListUploadedVideoIDs(ctx context.Context, playlistID string) ([]string, error) {
	var (
		ids   []string
		token string
	)

	for {
		req := c.service.PlaylistItems.
			List([]string{"contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(maxResults).
			Context(ctx)
		if token != "" {
			req = req.PageToken(token)
		}

		resp, err := req.Do()
		if err != nil {
			return nil, errors.Wrap(err, "failed to query playlist items")
		}

		for _, item := range resp.Items {
			ids = append(ids, item.ContentDetails.VideoId)
		}

		token = resp.NextPageToken
		if token == "" {
			return ids, nil
		}
	}
}

// VideoDetails batch-fetches full metadata for the given video IDs,
// at most 50 IDs joined per request.
//
// Cost: 7 units per batch (call: 1, snippet: 2, contentDetails: 2, liveStreamingDetails: 2)
func (c *Client) VideoDetails(ctx context.Context, ids []string) ([]model.ExternalVideo, error) {
	videos := make([]model.ExternalVideo, 0, len(ids))

	for len(ids) > 0 {
		batch := ids
		if len(batch) > maxResults {
			batch = batch[:maxResults]
		}
		ids = ids[len(batch):]

		resp, err := c.service.Videos.
			List([]string{"snippet", "contentDetails", "liveStreamingDetails"}).
			Id(strings.Join(batch, ",")).
			Context(ctx).
			Do()
		if err != nil {
			return nil, errors.Wrap(err, "failed to query video details")
		}

		for _, item := range resp.Items {
			videos = append(videos, externalVideo(item, c.now()))
		}
	}

	return videos, nil
}

func externalVideo(item *youtube.Video, now time.Time) model.ExternalVideo {
	return model.ExternalVideo{
		ID:          item.Id,
		Title:       item.Snippet.Title,
		PublishedAt: publishedAt(item),
		Duration:    videoDuration(item),
		Preview:     selectPreview(item.Snippet.Thumbnails),
		Status:      liveStatus(item.LiveStreamingDetails, now),
	}
}

// publishedAt prefers the actual stream start, then the scheduled start,
// then the generic publication instant.
func publishedAt(item *youtube.Video) *time.Time {
	candidates := []string{item.Snippet.PublishedAt}
	if live := item.LiveStreamingDetails; live != nil {
		candidates = []string{live.ActualStartTime, live.ScheduledStartTime, item.Snippet.PublishedAt}
	}

	for _, s := range candidates {
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			log.WithField("video_id", item.Id).Warnf("unparsable publish date %q", s)
			continue
		}
		return &t
	}

	return nil
}

func videoDuration(item *youtube.Video) string {
	if item.ContentDetails == nil || item.ContentDetails.Duration == "" {
		return model.DefaultDuration
	}

	s := item.ContentDetails.Duration
	if _, err := duration.FromString(s); err != nil {
		log.WithField("video_id", item.Id).Warnf("unparsable duration %q", s)
		return model.DefaultDuration
	}

	return s
}

func liveStatus(details *youtube.VideoLiveStreamingDetails, now time.Time) model.Status {
	if details == nil {
		return model.StatusNormal
	}

	if details.ActualEndTime != "" {
		return model.StatusEnded
	}

	if details.ActualStartTime != "" {
		started, err := time.Parse(time.RFC3339, details.ActualStartTime)
		if err == nil && started.After(now) {
			return model.StatusUpcoming
		}
		return model.StatusLive
	}

	return model.StatusUpcoming
}

// selectPreview picks the highest resolution thumbnail variant available.
func selectPreview(details *youtube.ThumbnailDetails) model.Preview {
	if details == nil {
		return model.Preview{}
	}

	for _, t := range []*youtube.Thumbnail{
		details.Maxres,
		details.Standard,
		details.High,
		details.Medium,
		details.Default,
	} {
		if t != nil && t.Url != "" {
			return model.Preview{URL: t.Url, Width: t.Width, Height: t.Height}
		}
	}

	return model.Preview{}
}
