package output

import (
	"fmt"

	"github.com/zsiec/rewind/internal/media"
)

// NearestResampler converts interleaved PCM frames to the output format by
// picking, for every output sample, the nearest input sample in time and
// the nearest input channel. Frames without sample data render as silence.
// Input samples must already have the output sample width.
type NearestResampler struct{}

// Convert appends to dst[:0] the wantedSamples input sample frames of f,
// stretched or squeezed to fill exactly that duration at the output rate.
func (NearestResampler) Convert(dst []byte, f *media.Frame, wantedSamples int, out media.AudioFormat) ([]byte, error) {
	fs := out.FrameSize()
	if fs <= 0 || out.SampleRate <= 0 {
		return dst[:0], fmt.Errorf("output: invalid output format %+v", out)
	}
	n := wantedSamples
	if f.SampleRate > 0 && f.SampleRate != out.SampleRate {
		n = int(int64(wantedSamples) * int64(out.SampleRate) / int64(f.SampleRate))
	}
	n = max(n, 0)

	dst = grow(dst[:0], n*fs)
	if len(f.Data) == 0 || f.NbSamples == 0 {
		clear(dst)
		return dst, nil
	}

	inCh := max(f.Channels, 1)
	bps := out.BytesPerSample
	inFS := inCh * bps
	if len(f.Data) < f.NbSamples*inFS {
		return dst[:0], fmt.Errorf("output: frame holds %d bytes, want %d", len(f.Data), f.NbSamples*inFS)
	}

	for i := range n {
		src := min(int(int64(i)*int64(f.NbSamples)/int64(max(n, 1))), f.NbSamples-1)
		for c := range out.Channels {
			ic := min(c, inCh-1)
			copy(dst[i*fs+c*bps:i*fs+(c+1)*bps], f.Data[src*inFS+ic*bps:])
		}
	}
	return dst, nil
}

func grow(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}
