// Package player orchestrates playback of one input: a demux goroutine
// feeding bounded per-stream packet queues, one decode goroutine per
// stream, a video refresh loop reading a bidirectional ring of decoded
// pictures, and an audio loop pacing samples into a sink.
//
// Video, audio and external clocks are kept in step the way desktop
// players do it: the master clock is configurable, late video frames are
// dropped or repeated, and the audio loop stretches or shrinks sample
// blocks by a bounded amount to follow the master. Playback can pause,
// change speed, seek, and reverse direction in place; during backward
// playback the ring is refilled one reverse batch at a time by seeking the
// demuxer behind the displayed picture.
package player
