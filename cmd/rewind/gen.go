package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/zsiec/rewind/internal/demux"
	"github.com/zsiec/rewind/internal/mpegts"
)

const (
	genPMTPID      = 0x1000
	genVideoPID    = 0x100
	genAudioPID    = 0x101
	genStartTicks  = 90000
	genSampleRate  = 48000
	genAudioFrames = demux.SamplesPerAACFrame
)

// genOptions describes a synthetic test stream.
type genOptions struct {
	Frames       int
	FPS          int
	GOP          int
	Audio        bool
	CaptionEvery int
}

// Pop-on caption control codes for CC1.
var (
	ccResumeLoading = [2]byte{0x14, 0x20}
	ccEndOfCaption  = [2]byte{0x14, 0x2F}
)

// writeTestStream writes an MPEG-TS stream of H.264-shaped access units,
// one IDR every GOP frames, with ADTS-framed AAC audio and a numbered
// CEA-608 pop-on caption every CaptionEvery frames. The payloads carry no
// real pictures or sound; every picture encodes its frame number.
func writeTestStream(w io.Writer, o genOptions) error {
	if o.Frames < 1 || o.FPS < 1 || o.GOP < 1 {
		return fmt.Errorf("gen: frames, fps and gop must be positive")
	}
	streams := []mpegts.ElementaryStream{{PID: genVideoPID, StreamType: mpegts.StreamTypeH264}}
	if o.Audio {
		streams = append(streams, mpegts.ElementaryStream{PID: genAudioPID, StreamType: mpegts.StreamTypeAAC})
	}
	m, err := mpegts.NewMuxer(w, genPMTPID, streams)
	if err != nil {
		return err
	}
	if err := m.WriteTables(); err != nil {
		return err
	}

	frameTicks := int64(90000 / o.FPS)
	captions := captionSchedule(o)
	var audioSamples int64
	for i := range o.Frames {
		pts := genStartTicks + int64(i)*frameTicks
		key := i%o.GOP == 0

		var au []byte
		if key {
			au = demux.AppendAnnexB(au, []byte{0x67, 0x42, 0xE0, 0x1E}, []byte{0x68, 0xCE, 0x38, 0x80})
		}
		if pairs, ok := captions[i]; ok {
			au = demux.AppendAnnexB(au, demux.CaptionSEI(demux.CaptionField1, pairs...))
		}
		n := []byte{byte(i >> 16), byte(i >> 8), byte(i)}
		if key {
			au = demux.AppendAnnexB(au, append([]byte{0x65, 0x88}, n...))
		} else {
			au = demux.AppendAnnexB(au, append([]byte{0x41, 0x9A}, n...))
		}
		if err := m.WritePES(genVideoPID, mpegts.StreamIDVideo, pts, pts, au, key); err != nil {
			return err
		}

		// Audio runs up to the end of this picture.
		if !o.Audio {
			continue
		}
		for {
			apts := genStartTicks + audioSamples*90000/genSampleRate
			if apts >= pts+frameTicks {
				break
			}
			adts, err := demux.AppendADTS(nil, genSampleRate, 2, []byte{0x21, byte(audioSamples / genAudioFrames)})
			if err != nil {
				return err
			}
			if err := m.WritePES(genAudioPID, mpegts.StreamIDAudio, apts, mpegts.NoTimestamp, adts, false); err != nil {
				return err
			}
			audioSamples += genAudioFrames
		}
	}
	return nil
}

// captionSchedule maps frame numbers to the CEA-608 pairs carried with
// them. Each cue takes one pair group per frame, like a live encoder.
func captionSchedule(o genOptions) map[int][][2]byte {
	out := map[int][][2]byte{}
	if o.CaptionEvery < 1 {
		return out
	}
	for cue, start := 1, 0; start < o.Frames; cue, start = cue+1, start+o.CaptionEvery {
		groups := [][][2]byte{{ccResumeLoading}, {ccResumeLoading}}
		text := []byte("CUE " + strconv.Itoa(cue))
		for _, chunk := range lo.Chunk(text, 2) {
			pair := [2]byte{chunk[0], 0}
			if len(chunk) == 2 {
				pair[1] = chunk[1]
			}
			groups = append(groups, [][2]byte{pair})
		}
		groups = append(groups, [][2]byte{ccEndOfCaption}, [][2]byte{ccEndOfCaption})
		for k, g := range groups {
			if start+k < o.Frames {
				out[start+k] = g
			}
		}
	}
	return out
}

func newGenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen OUTPUT",
		Short: "Write a synthetic MPEG-TS test stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			o := genOptions{
				Frames:       lo.Must(flags.GetInt("frames")),
				FPS:          lo.Must(flags.GetInt("fps")),
				GOP:          lo.Must(flags.GetInt("gop")),
				Audio:        lo.Must(flags.GetBool("audio")),
				CaptionEvery: lo.Must(flags.GetInt("caption-every")),
			}
			f, err := a.fs.Create(args[0])
			if err != nil {
				return fmt.Errorf("gen: %w", err)
			}
			bw := bufio.NewWriter(f)
			err = writeTestStream(bw, o)
			if err == nil {
				err = bw.Flush()
			}
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("gen %s: %w", args[0], err)
			}
			a.log.Info("test stream written", "file", args[0], "frames", o.Frames,
				"duration", time.Duration(o.Frames)*time.Second/time.Duration(o.FPS))
			return nil
		},
	}
	cmd.Flags().Int("frames", 250, "number of video frames")
	cmd.Flags().Int("fps", 25, "video frame rate")
	cmd.Flags().Int("gop", 25, "frames per keyframe interval")
	cmd.Flags().Bool("audio", true, "include an AAC audio stream")
	cmd.Flags().Int("caption-every", 50, "frames between caption cues, 0 for none")
	return cmd
}
