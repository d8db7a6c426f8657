package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zsiec/rewind/internal/player"
)

// controller is the part of *player.Player driven by host commands.
type controller interface {
	Pause() error
	Play() error
	TogglePause() error
	Step() error
	Seek(t time.Duration) error
	SeekRelative(delta time.Duration) error
	SetSpeed(speed float64) error
	SetDirection(d player.Direction) error
	ToggleDirection() error
	Status() player.Status
}

var errQuit = errors.New("quit")

const commandHelp = `commands:
  pause | play | toggle     pause or resume
  step                      show the next picture, paused
  seek SECONDS              seek to an absolute position
  seek +SECONDS | -SECONDS  seek relative to the current position
  speed RATE                set the playback rate, 1 is real time
  reverse | forward | flip  set or flip the playback direction
  status                    print the player status as JSON
  quit                      stop playback`

// execCommand runs one command line against c, writing any reply to out.
// It returns errQuit for the quit command.
func execCommand(c controller, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s: want %d argument(s), got %d", name, n, len(args))
		}
		return nil
	}

	switch name {
	case "pause":
		return c.Pause()
	case "play", "resume":
		return c.Play()
	case "toggle", "p":
		return c.TogglePause()
	case "step", "s":
		return c.Step()
	case "seek":
		if err := want(1); err != nil {
			return err
		}
		d, err := parseSeconds(args[0])
		if err != nil {
			return fmt.Errorf("seek: %w", err)
		}
		if strings.HasPrefix(args[0], "+") || strings.HasPrefix(args[0], "-") {
			return c.SeekRelative(d)
		}
		return c.Seek(d)
	case "speed":
		if err := want(1); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("speed: %w", err)
		}
		return c.SetSpeed(v)
	case "reverse", "backward", "r":
		return c.SetDirection(player.Backward)
	case "forward", "f":
		return c.SetDirection(player.Forward)
	case "flip":
		return c.ToggleDirection()
	case "status":
		b, err := json.Marshal(c.Status())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", b)
		return err
	case "help", "?":
		_, err := fmt.Fprintln(out, commandHelp)
		return err
	case "quit", "exit", "q":
		return errQuit
	}
	return fmt.Errorf("unknown command %q, try help", name)
}

func parseSeconds(s string) (time.Duration, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid position %q", s)
	}
	return time.Duration(v * float64(time.Second)), nil
}

// runCommands executes the command lines read from in until ctx is done,
// in ends, or a quit command calls stop. Failed commands are reported on
// out and do not end the loop.
func runCommands(ctx context.Context, in io.Reader, out io.Writer, c controller, stop func()) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := execCommand(c, line, out)
			if errors.Is(err, errQuit) {
				stop()
				return nil
			}
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		}
	}
}
