package player

import (
	"math"

	"github.com/samber/lo"

	"github.com/zsiec/rewind/internal/config"
)

// maxFrameDuration bounds the gap between two consecutive frame timestamps
// that is still taken as a frame duration rather than a discontinuity.
const maxFrameDuration = 10.0

// targetDelay returns how long the current picture should stay on screen
// given its nominal duration delay and diff, the video clock minus the
// master clock in seconds. diff is NaN when video is the master.
//
// Behind the master the delay shrinks, down to zero; ahead of it the
// delay grows, by diff for long frames and by doubling for short ones.
func targetDelay(delay, diff float64, sc config.SyncConfig) float64 {
	if math.IsNaN(diff) || math.Abs(diff) >= maxFrameDuration {
		return delay
	}
	threshold := lo.Clamp(delay, sc.MinThreshold, sc.MaxThreshold)
	switch {
	case diff <= -threshold:
		return math.Max(0, delay+diff)
	case diff >= threshold && delay > sc.FramedupThreshold:
		return delay + diff
	case diff >= threshold:
		return 2 * delay
	}
	return delay
}

// frameDuration is the on-screen time of cur before next is due: the
// timestamp gap between them, or cur's nominal duration when the gap is
// unusable.
func frameDuration(cur, next float64, nominal float64) float64 {
	d := math.Abs(next - cur)
	if math.IsNaN(d) || d <= 0 || d > maxFrameDuration {
		return nominal
	}
	return d
}

// audioSync tracks the running average of the audio clock's drift from
// the master and sizes sample blocks to close it.
type audioSync struct {
	coef      float64
	avgNB     int
	percent   int
	noSync    float64
	threshold float64

	cum   float64
	count int
}

func newAudioSync(sc config.SyncConfig, threshold float64) *audioSync {
	return &audioSync{
		coef:      math.Exp(math.Log(0.01) / float64(sc.AudioDiffAvgNB)),
		avgNB:     sc.AudioDiffAvgNB,
		percent:   sc.SampleCorrectionPc,
		noSync:    sc.NoSyncThreshold,
		threshold: threshold,
	}
}

func (a *audioSync) reset() {
	a.cum = 0
	a.count = 0
}

// correct returns the number of samples the next block of nb samples at
// rate should be converted to. diff is the audio clock minus the master
// clock in seconds, NaN when audio is the master.
//
// Nothing changes until avgNB measurements have been averaged; after that
// the block is stretched or shrunk by diff, at most by percent.
func (a *audioSync) correct(diff float64, nb, rate int) int {
	if math.IsNaN(diff) || math.Abs(diff) >= a.noSync {
		a.reset()
		return nb
	}
	a.cum = diff + a.coef*a.cum
	if a.count < a.avgNB {
		a.count++
		return nb
	}
	avg := a.cum * (1 - a.coef)
	if math.Abs(avg) < a.threshold {
		return nb
	}
	wanted := nb + int(diff*float64(rate))
	lowest := nb * (100 - a.percent) / 100
	highest := nb * (100 + a.percent) / 100
	return lo.Clamp(wanted, lowest, highest)
}
