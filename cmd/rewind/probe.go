package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/zsiec/rewind/internal/media"
)

type probeResult struct {
	Input    string             `json:"input"`
	Seekable bool               `json:"seekable"`
	Duration time.Duration      `json:"duration,omitempty"`
	Streams  []media.StreamInfo `json:"streams"`
}

func newProbeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe INPUT",
		Short: "List the streams of an input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openInput(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			res := probeResult{Input: args[0], Seekable: d.Seekable(), Streams: d.Streams()}
			if res.Seekable && lo.Must(cmd.Flags().GetBool("index")) {
				if err := d.IndexAll(); err != nil {
					return fmt.Errorf("index %s: %w", args[0], err)
				}
				res.Duration = d.Duration()
			}

			if lo.Must(cmd.Flags().GetBool("json")) {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return writeProbe(a, res)
		},
	}
	cmd.Flags().Bool("json", false, "print JSON")
	cmd.Flags().Bool("index", true, "scan a seekable input to report its duration")
	return cmd
}

func writeProbe(a *app, res probeResult) error {
	fmt.Fprintf(a.stdout, "%s seekable=%t", res.Input, res.Seekable)
	if res.Duration > 0 {
		fmt.Fprintf(a.stdout, " duration=%s", res.Duration)
	}
	fmt.Fprintln(a.stdout)

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tKIND\tCODEC\tPID\tSTART\tDETAIL")
	for _, s := range res.Streams {
		detail := ""
		switch s.Kind {
		case media.KindVideo:
			if s.FrameDuration > 0 {
				detail = fmt.Sprintf("%.3f fps", float64(time.Second)/float64(s.FrameDuration))
			}
		case media.KindAudio:
			detail = fmt.Sprintf("%d Hz, %d ch", s.SampleRate, s.Channels)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%#x\t%s\t%s\n", s.Index, s.Kind, s.Codec, s.PID, s.StartTime, detail)
	}
	return w.Flush()
}
