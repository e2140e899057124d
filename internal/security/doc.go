// Package security validates uploaded archives before any extraction work.
//
// Validation is structural only: it reads the zip central directory to bound
// archive size, entry counts, and compression ratios, and confirms the deck
// layout, without inflating entry payloads. Every submission goes through the
// same checks regardless of filename or declared type.
package security
