// Package assetcache keeps rendered assets around for reuse across jobs.
// Identical slides render to identical frames, so frames are addressed by a
// hash of their content and geometry rather than by job.
package assetcache
