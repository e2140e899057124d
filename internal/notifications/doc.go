// Package notifications delivers job lifecycle events. Push notifications go
// to an ntfy topic when one is configured; live progress updates fan out
// through an in-process hub to websocket subscribers. Notification failures
// never fail the job that triggered them.
package notifications
