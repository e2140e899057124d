// Command slidereel is the CLI for the slidereel daemon: it submits
// presentations, inspects and cancels jobs, follows live progress, and
// downloads finished videos over the daemon's HTTP API.
package main
