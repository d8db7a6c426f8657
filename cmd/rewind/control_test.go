package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/rewind/internal/player"
)

// recordController logs every call it receives.
type recordController struct {
	calls []string
	err   error
}

func (c *recordController) record(format string, args ...any) error {
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
	return c.err
}

func (c *recordController) Pause() error       { return c.record("pause") }
func (c *recordController) Play() error        { return c.record("play") }
func (c *recordController) TogglePause() error { return c.record("toggle") }
func (c *recordController) Step() error        { return c.record("step") }
func (c *recordController) Seek(t time.Duration) error {
	return c.record("seek %s", t)
}
func (c *recordController) SeekRelative(d time.Duration) error {
	return c.record("seek-relative %s", d)
}
func (c *recordController) SetSpeed(v float64) error { return c.record("speed %g", v) }
func (c *recordController) SetDirection(d player.Direction) error {
	return c.record("direction %s", d)
}
func (c *recordController) ToggleDirection() error { return c.record("flip") }
func (c *recordController) Status() player.Status {
	c.record("status")
	return player.Status{State: player.StateRunning, Speed: 1.5}
}

func TestExecCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want string
	}{
		{"pause", "pause"},
		{"PLAY", "play"},
		{"p", "toggle"},
		{"step", "step"},
		{"seek 12.5", "seek 12.5s"},
		{"seek +5", "seek-relative 5s"},
		{"seek -2.5", "seek-relative -2.5s"},
		{"speed 1.5", "speed 1.5"},
		{"reverse", "direction backward"},
		{"forward", "direction forward"},
		{"flip", "flip"},
		{"  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			c := &recordController{}
			if err := execCommand(c, tt.line, &bytes.Buffer{}); err != nil {
				t.Fatalf("execCommand(%q): %v", tt.line, err)
			}
			got := strings.Join(c.calls, ",")
			if got != tt.want {
				t.Errorf("execCommand(%q) called %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestExecCommandErrors(t *testing.T) {
	t.Parallel()

	for _, line := range []string{"seek", "seek abc", "seek NaN", "speed", "speed fast", "jump 3"} {
		c := &recordController{}
		if err := execCommand(c, line, &bytes.Buffer{}); err == nil {
			t.Errorf("execCommand(%q) succeeded", line)
		}
		if len(c.calls) != 0 {
			t.Errorf("execCommand(%q) called %v", line, c.calls)
		}
	}

	c := &recordController{err: player.ErrSeekRejected}
	if err := execCommand(c, "seek 1", &bytes.Buffer{}); !errors.Is(err, player.ErrSeekRejected) {
		t.Errorf("player error not returned: %v", err)
	}
	if err := execCommand(c, "quit", &bytes.Buffer{}); !errors.Is(err, errQuit) {
		t.Errorf("quit: got %v, want errQuit", err)
	}
}

func TestExecCommandStatus(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := execCommand(&recordController{}, "status", &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, `"state":"running"`) || !strings.Contains(got, `"speed":1.5`) {
		t.Errorf("status output %q", got)
	}
}

func TestRunCommands(t *testing.T) {
	t.Parallel()

	in := strings.NewReader("pause\nbogus\nspeed 2\nquit\nplay\n")
	var out bytes.Buffer
	c := &recordController{}
	stopped := false
	if err := runCommands(context.Background(), in, &out, c, func() { stopped = true }); err != nil {
		t.Fatalf("runCommands: %v", err)
	}
	if !stopped {
		t.Error("quit did not stop playback")
	}
	if got := strings.Join(c.calls, ","); got != "pause,speed 2" {
		t.Errorf("calls %q, want commands up to quit", got)
	}
	if !strings.Contains(out.String(), `unknown command "bogus"`) {
		t.Errorf("output %q does not report the bad command", out.String())
	}
}

func TestRunCommandsEndOfInput(t *testing.T) {
	t.Parallel()

	c := &recordController{}
	stopped := false
	if err := runCommands(context.Background(), strings.NewReader("step\n"), &bytes.Buffer{}, c, func() { stopped = true }); err != nil {
		t.Fatalf("runCommands: %v", err)
	}
	if stopped {
		t.Error("end of commands stopped playback")
	}
	if len(c.calls) != 1 {
		t.Errorf("calls %v", c.calls)
	}
}
