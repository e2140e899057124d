package stage

import "context"

// ProgressFunc receives a stage's internal progress in percent plus a short
// human-readable message.
type ProgressFunc func(percent float64, message string)

type progressKey struct{}

// WithProgress attaches a progress reporter to the context handed to a
// stage's Execute. The workflow manager installs one per attempt.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress invokes the context's progress reporter, if any. Handlers
// call this from Execute; it is a no-op outside the workflow manager.
func ReportProgress(ctx context.Context, percent float64, message string) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		fn(percent, message)
	}
}
