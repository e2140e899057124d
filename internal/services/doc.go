// Package services defines the shared error taxonomy and context annotations
// used across pipeline stages.
package services
