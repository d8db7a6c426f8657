// Package srt opens live MPEG-TS inputs over SRT (Secure Reliable
// Transport), either by dialing a remote listener (caller mode) or by
// waiting for one publisher to connect (listener mode). Either way the
// result is a Source: an io.ReadCloser of transport stream bytes.
package srt
