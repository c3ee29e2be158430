package sentry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"optionsmetrics/pkg/errors"
)

// Tracker implements error tracking via Sentry
type Tracker struct {
	hub          *sentry.Hub
	flushTimeout time.Duration
}

// New creates a new Sentry tracker
func New(dsn string, environment string, release string) (*Tracker, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init sentry")
	}

	return &Tracker{
		hub:          sentry.CurrentHub(),
		flushTimeout: 2 * time.Second,
	}, nil
}

// CaptureError sends an error to Sentry, tagged with the asset in ctx
func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		t.applyTags(ctx, scope, tags)
	})
	hub.CaptureException(err)
	return nil
}

// CaptureMessage sends a message to Sentry
func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		t.applyTags(ctx, scope, tags)
		scope.SetLevel(convertLevel(level))
	})
	hub.CaptureMessage(message)
	return nil
}

// AddBreadcrumb records a pipeline stage on the shared hub
func (t *Tracker) AddBreadcrumb(ctx context.Context, message string, category string, level errors.Level, data map[string]interface{}) {
	if asset, ok := errors.AssetFromContext(ctx); ok {
		if data == nil {
			data = map[string]interface{}{}
		}
		data["asset"] = asset
	}
	t.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Message:   message,
		Category:  category,
		Level:     convertLevel(level),
		Data:      data,
		Timestamp: time.Now(),
	}, &sentry.BreadcrumbHint{})
}

// Flush waits for pending events. A timeout is reported as ErrTimeout.
func (t *Tracker) Flush(ctx context.Context) error {
	timeout := t.flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !sentry.Flush(timeout) {
		return errors.Wrap(errors.ErrTimeout, "sentry flush")
	}
	return nil
}

func (t *Tracker) applyTags(ctx context.Context, scope *sentry.Scope, tags map[string]string) {
	for k, v := range tags {
		scope.SetTag(k, v)
	}
	if asset, ok := errors.AssetFromContext(ctx); ok {
		scope.SetTag("asset", asset)
	}
}

func convertLevel(level errors.Level) sentry.Level {
	switch level {
	case errors.LevelDebug:
		return sentry.LevelDebug
	case errors.LevelInfo:
		return sentry.LevelInfo
	case errors.LevelWarning:
		return sentry.LevelWarning
	case errors.LevelError:
		return sentry.LevelError
	case errors.LevelFatal:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}
