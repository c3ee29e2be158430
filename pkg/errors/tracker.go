package errors

import (
	"context"
)

// Tracker defines the interface for error tracking services (Sentry, ...)
type Tracker interface {
	// CaptureError sends an error to the tracking service
	CaptureError(ctx context.Context, err error, tags map[string]string) error

	// CaptureMessage sends a message to the tracking service
	CaptureMessage(ctx context.Context, message string, level Level, tags map[string]string) error

	// AddBreadcrumb records a step of the current cycle (asset, stage)
	AddBreadcrumb(ctx context.Context, message string, category string, level Level, data map[string]interface{})

	// Flush waits for all pending events to be sent
	Flush(ctx context.Context) error
}

// Level represents the severity level of an error or message
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

func (l Level) String() string {
	return string(l)
}

type assetKey struct{}

// WithAsset tags ctx with the underlying asset being processed
func WithAsset(ctx context.Context, asset string) context.Context {
	return context.WithValue(ctx, assetKey{}, asset)
}

// AssetFromContext returns the asset set by WithAsset, if any
func AssetFromContext(ctx context.Context) (string, bool) {
	asset, ok := ctx.Value(assetKey{}).(string)
	return asset, ok && asset != ""
}
