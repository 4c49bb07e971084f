package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/HeroTools/open-whispr-sub004/internal/dictation"
)

// Controller is the part of the orchestrator the key loop drives.
type Controller interface {
	Toggle(ctx context.Context) error
	CancelRecording() error
	CancelProcessing(ctx context.Context) error
	State() dictation.State
}

// ErrQuit is returned by KeyLoop when the user asks to exit.
var ErrQuit = errors.New("shell: quit")

// KeyLoop reads one command per line from in:
//
//	(empty)  start or stop recording
//	c        cancel the recording or the in-flight transcription
//	q        quit
//
// It returns ErrQuit, ctx.Err(), or nil at end of input. Rejected commands
// (busy, nothing to cancel) are reported on out and the loop continues.
func KeyLoop(ctx context.Context, in io.Reader, out io.Writer, c Controller) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line := <-lines:
			if err := dispatch(ctx, strings.ToLower(line), out, c); err != nil {
				return err
			}
		}
	}
}

func dispatch(ctx context.Context, cmd string, out io.Writer, c Controller) error {
	switch cmd {
	case "":
		if err := c.Toggle(ctx); err != nil {
			report(out, err)
		}
	case "c", "cancel":
		var err error
		if c.State() == dictation.StateRecording || c.State() == dictation.StateStreaming {
			err = c.CancelRecording()
		} else {
			err = c.CancelProcessing(ctx)
		}
		if err != nil {
			report(out, err)
		}
	case "q", "quit", "exit":
		return ErrQuit
	default:
		fmt.Fprintf(out, "unknown command %q (Enter: record/stop, c: cancel, q: quit)\n", cmd)
	}
	return nil
}

// report prints rejections that are normal in interactive use.
func report(out io.Writer, err error) {
	switch {
	case errors.Is(err, dictation.ErrBusy):
		fmt.Fprintln(out, "still working on the last recording")
	case errors.Is(err, dictation.ErrNotRecording), errors.Is(err, dictation.ErrNotProcessing):
		fmt.Fprintln(out, "nothing to cancel")
	default:
		// Start failures are published as error events already.
		if dictation.AsError(err) != nil {
			return
		}
		fmt.Fprintf(out, "✗ %v\n", err)
	}
}
