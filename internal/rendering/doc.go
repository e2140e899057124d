// Package rendering produces the final training video. Slide frames are
// drawn as PNGs and handed to ffmpeg together with the narration track; the
// concat demuxer holds each frame for its narration segment and -shortest
// pins the video length to the audio.
package rendering
