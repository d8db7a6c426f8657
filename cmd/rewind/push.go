package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/zsiec/rewind/internal/demux"
	"github.com/zsiec/rewind/internal/ingest/srt"
	"github.com/zsiec/rewind/internal/media"
)

func newPushCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push FILE srt://HOST:PORT[?streamid=ID]",
		Short: "Publish a transport stream file to an SRT listener in real time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			target, err := srt.ParseURL(args[1])
			if err != nil {
				return err
			}
			if target.Listen {
				return fmt.Errorf("push: %s is a listener URL, push needs a caller URL", args[1])
			}
			data, err := afero.ReadFile(a.fs, args[0])
			if err != nil {
				return fmt.Errorf("push: %w", err)
			}
			rate := lo.Must(cmd.Flags().GetFloat64("rate"))
			if rate <= 0 {
				d, err := playDuration(ctx, data)
				if err != nil {
					return fmt.Errorf("push: %w, set --rate", err)
				}
				rate = float64(len(data)) / d.Seconds()
			}
			streamID := lo.CoalesceOrEmpty(target.StreamID, a.cfg.SRT.StreamID)
			_, err = srt.Push(ctx, target.Addr, streamID, data, rate, lo.Must(cmd.Flags().GetBool("loop")), a.log)
			return err
		},
	}
	cmd.Flags().Float64("rate", 0, "bytes per second (default: file size over its duration)")
	cmd.Flags().Bool("loop", false, "start over at the end of the file")
	return cmd
}

// playDuration measures how long data plays, from the start of its
// first stream to the end of its last packet.
func playDuration(ctx context.Context, data []byte) (time.Duration, error) {
	d, err := demux.Open(ctx, bytes.NewReader(data), nil)
	if err != nil {
		return 0, err
	}
	defer d.Close()

	streams := d.Streams()
	if len(streams) == 0 {
		return 0, fmt.Errorf("no streams")
	}
	end := media.NoPTS
	var pkt media.Packet
	for d.ReadPacket(&pkt) == nil {
		if pkt.PTS != media.NoPTS {
			end = max(end, pkt.PTS+pkt.Duration)
		}
	}
	if dur := end - streams[0].StartTime; end != media.NoPTS && dur > 0 {
		return dur, nil
	}
	return 0, fmt.Errorf("cannot measure duration")
}
