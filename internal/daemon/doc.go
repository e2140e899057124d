// Package daemon hosts the long-running slidereel process: the job store,
// the workflow manager with its stage handlers, and the HTTP API with the
// websocket progress stream. A lock file keeps execution single-instance.
package daemon
