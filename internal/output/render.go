package output

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/rewind/internal/media"
)

// LogRenderer stands in for a display. It logs every picture at debug
// level and every change of subtitle text at info level.
type LogRenderer struct {
	log *slog.Logger

	mu       sync.Mutex
	frames   int64
	lastPos  int64
	lastPTS  time.Duration
	subtitle string
}

// NewLogRenderer returns a renderer logging to log. If log is nil,
// slog.Default() is used.
func NewLogRenderer(log *slog.Logger) *LogRenderer {
	if log == nil {
		log = slog.Default()
	}
	return &LogRenderer{log: log.With("component", "renderer"), lastPos: -1, lastPTS: media.NoPTS}
}

// Render records video and the subtitle shown with it, which may be nil.
func (r *LogRenderer) Render(video, subtitle *media.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames++
	r.lastPos = video.Position
	r.lastPTS = video.PTS
	r.log.Debug("frame", "position", video.Position, "pts", video.PTS, "bytes", len(video.Data),
		"keyframe", video.KeyFrame)

	text := ""
	if subtitle != nil {
		text = subtitle.Text
	}
	if text != r.subtitle {
		r.subtitle = text
		if text == "" {
			r.log.Info("subtitle cleared", "position", video.Position)
		} else {
			r.log.Info("subtitle", "position", video.Position, "text", text)
		}
	}
	return nil
}

// RenderStats is a snapshot of a LogRenderer.
type RenderStats struct {
	Frames   int64         `json:"frames"`
	Position int64         `json:"position"`
	PTS      time.Duration `json:"pts"`
	Subtitle string        `json:"subtitle,omitempty"`
}

// Stats returns what was rendered last and how many frames so far.
func (r *LogRenderer) Stats() RenderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RenderStats{Frames: r.frames, Position: r.lastPos, PTS: r.lastPTS, Subtitle: r.subtitle}
}
