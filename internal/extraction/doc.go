// Package extraction turns a validated deck archive into slide content.
//
// Strategies run in a fixed chain: a structured PresentationML token walk, a
// lossy tag-stripping scan, and finally a synthetic placeholder deck. The
// chain guarantees every job leaves this stage with a non-empty deck, so
// downstream stages never see missing content.
package extraction
