// Package output holds the host-side collaborators the player writes to:
// an audio sink paced by the wall clock, a renderer that logs what would
// be shown, and a PCM resampler.
package output
