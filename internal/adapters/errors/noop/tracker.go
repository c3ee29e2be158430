package noop

import (
	"context"

	"optionsmetrics/pkg/errors"
)

// Tracker discards everything. Used when SENTRY_DSN is empty and in tests.
type Tracker struct{}

func New() *Tracker {
	return &Tracker{}
}

func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	return nil
}

func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	return nil
}

func (t *Tracker) AddBreadcrumb(ctx context.Context, message string, category string, level errors.Level, data map[string]interface{}) {
}

func (t *Tracker) Flush(ctx context.Context) error {
	return nil
}

var _ errors.Tracker = (*Tracker)(nil)
