// Package narration turns extracted slide text into a single spoken audio
// track. Providers form an ordered chain ending in a silence generator, so
// synthesis degrades through local TTS, remote TTS, and placeholder audio
// without ever failing the job outright. All audio is fixed-format PCM WAV
// (22.05 kHz, 16-bit, mono) so assembly is pure byte concatenation.
package narration
