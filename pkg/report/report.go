// Package report captures isolated pipeline failures and forwards them to
// an error tracker. Capture is fire-and-forget and never alters control
// flow of the caller.
package report

import (
	"time"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

// Reporter receives failures that were recovered locally (a single asset
// upload, one half of a split write) and should be visible to operators.
type Reporter interface {
	CaptureError(err error, tags map[string]string)
	CaptureMessage(msg string, tags map[string]string)
}

// Sentry reports captured failures to a Sentry project.
type Sentry struct {
	hub *sentry.Hub
}

func NewSentry(dsn string) (*Sentry, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{Dsn: dsn})
	if err != nil {
		return nil, err
	}

	hub := sentry.NewHub(client, sentry.NewScope())
	return &Sentry{hub: hub}, nil
}

func (s *Sentry) CaptureError(err error, tags map[string]string) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		s.hub.CaptureException(err)
	})
}

func (s *Sentry) CaptureMessage(msg string, tags map[string]string) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTags(tags)
		s.hub.CaptureMessage(msg)
	})
}

// Close flushes buffered events before shutdown.
func (s *Sentry) Close() {
	s.hub.Flush(2 * time.Second)
}

// Log is a reporter that only writes to the log. Used when no DSN is
// configured and in dry runs.
type Log struct{}

func (Log) CaptureError(err error, tags map[string]string) {
	log.WithError(err).WithFields(fields(tags)).Error("captured error")
}

func (Log) CaptureMessage(msg string, tags map[string]string) {
	log.WithFields(fields(tags)).Warn(msg)
}

func fields(tags map[string]string) log.Fields {
	f := make(log.Fields, len(tags))
	for k, v := range tags {
		f[k] = v
	}
	return f
}
