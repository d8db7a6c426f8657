package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/rewind/internal/codec"
	"github.com/zsiec/rewind/internal/output"
	"github.com/zsiec/rewind/internal/player"
)

func newPlayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play INPUT",
		Short: "Play a transport stream file, stdin (-) or an srt:// URL",
		Long: "Play a transport stream file, stdin (-) or an srt:// URL.\n\n" +
			"Pictures and captions are logged instead of displayed, and audio is\n" +
			"paced in real time without a device. Control commands are read from\n" +
			"stdin, one per line:\n\n" + commandHelp,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.play(cmd.Context(), args[0],
				lo.Must(cmd.Flags().GetDuration("start")),
				lo.Must(cmd.Flags().GetBool("commands")) && args[0] != stdinInput,
			)
		},
	}

	flags := cmd.Flags()
	flags.Duration("start", 0, "start position")
	flags.Bool("commands", true, "read control commands from stdin")
	flags.Bool("paused", false, "start paused")
	lo.Must0(a.v.BindPFlag("player.start_paused", flags.Lookup("paused")))
	flags.Float64("speed", 1, "playback rate")
	lo.Must0(a.v.BindPFlag("player.speed", flags.Lookup("speed")))
	flags.Bool("loop", false, "restart at the end of the input")
	lo.Must0(a.v.BindPFlag("player.loop", flags.Lookup("loop")))
	flags.Bool("autoexit", false, "exit at the end of the input")
	lo.Must0(a.v.BindPFlag("player.auto_exit", flags.Lookup("autoexit")))
	flags.String("sync", "audio", "master clock: audio, video or external")
	lo.Must0(a.v.BindPFlag("sync.master", flags.Lookup("sync")))
	flags.Bool("no-audio", false, "disable audio output")
	lo.Must0(a.v.BindPFlag("audio.disabled", flags.Lookup("no-audio")))
	flags.Bool("framedrop", true, "drop late pictures when video is not the master")
	lo.Must0(a.v.BindPFlag("player.frame_drop", flags.Lookup("framedrop")))
	return cmd
}

func (a *app) play(ctx context.Context, input string, start time.Duration, commands bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := a.openInput(ctx, input)
	if err != nil {
		return err
	}
	renderer := output.NewLogRenderer(a.log)
	p := player.New(a.cfg, d, codec.NewFactory(a.log),
		player.WithLogger(a.log),
		player.WithRenderer(renderer),
		player.WithAudioSink(output.NewClockedSink(a.cfg.Audio.BufferSamples, a.log), output.NearestResampler{}),
	)
	if err := p.Open(ctx); err != nil {
		d.Close()
		return err
	}
	defer func() {
		if err := p.Close(); err != nil && !errors.Is(err, player.ErrClosed) {
			a.log.Warn("close failed", "error", err)
		}
	}()
	if start > 0 {
		if err := p.Seek(start); err != nil {
			a.log.Warn("start position ignored", "start", start, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return p.Run(gctx)
	})
	if commands {
		g.Go(func() error {
			return runCommands(gctx, a.stdin, a.stdout, p, cancel)
		})
	}
	err = g.Wait()

	st := p.Status()
	rs := renderer.Stats()
	a.log.Info("done",
		"position", st.Position,
		"frames", rs.Frames,
		"dropped", st.FramesDropped,
		"duplicated", st.FramesDuplicated,
		"seeks", st.Seeks,
	)
	return err
}
