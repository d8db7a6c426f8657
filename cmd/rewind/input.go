package main

import (
	"context"
	"fmt"
	"io"

	"github.com/zsiec/rewind/internal/demux"
	"github.com/zsiec/rewind/internal/ingest/srt"
)

// stdinInput is the input name read from standard input.
const stdinInput = "-"

// openInput opens name as a transport stream source: an srt:// URL, "-"
// for standard input, or a file. Files are seekable; the others are live.
func (a *app) openInput(ctx context.Context, name string) (*demux.TSDemuxer, error) {
	var src io.Reader
	switch {
	case srt.IsURL(name):
		target, err := srt.ParseURL(name)
		if err != nil {
			return nil, err
		}
		streamID := target.StreamID
		if streamID == "" {
			streamID = a.cfg.SRT.StreamID
		}
		var s *srt.Source
		if target.Listen {
			s, err = srt.Listen(ctx, target.Addr, streamID, a.log)
		} else {
			s, err = srt.Dial(ctx, target.Addr, streamID, a.cfg.SRT.DialTimeout, a.log)
		}
		if err != nil {
			return nil, err
		}
		src = s
	case name == stdinInput:
		src = io.NopCloser(a.stdin)
	default:
		f, err := a.fs.Open(name)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		src = f
	}

	d, err := demux.Open(ctx, src, a.log)
	if err != nil {
		if c, ok := src.(io.Closer); ok {
			c.Close()
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return d, nil
}
