package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/padelcore/padelcore/internal/app"
	"github.com/padelcore/padelcore/internal/config"
	"github.com/padelcore/padelcore/internal/recording"
	"github.com/padelcore/padelcore/internal/session"
)

// runCoach runs a single session in the terminal. Enter or the first Ctrl+C
// stops it; a second Ctrl+C kills the process.
func runCoach(ctx context.Context, stopSignals context.CancelFunc, cfg *config.Config, providers *app.Providers, args []string) int {
	fs := flag.NewFlagSet("coach", flag.ContinueOnError)
	video := fs.Bool("video", false, "stream camera stills and record the session")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	mode := session.ModeVoice
	if *video {
		mode = session.ModeVideo
	}

	term := newConsole(os.Stdin)
	application, err := app.New(ctx, cfg, providers,
		app.WithTitlePrompter(&recording.TerminalPrompter{In: term, Out: os.Stdout}),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	sm := application.Sessions()

	snap, err := sm.Start(ctx, mode, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", snap.Status)
		slog.Error("session start failed", "err", err)
		_ = application.Shutdown(context.Background())
		return 1
	}
	fmt.Printf("Coaching session %s started in %s mode. Press Enter to stop.\n", snap.ID, mode)

	status := snap.Status
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-term.enter:
			break wait
		case <-sm.Done():
			break wait
		case <-ticker.C:
			if cur, ok := sm.Current(); ok && cur.Status != status {
				status = cur.Status
				fmt.Println(status)
			}
		}
	}
	stopSignals()

	final, err := sm.Stop(context.Background(), "", false)
	if err != nil {
		slog.Warn("session stop error", "err", err)
	}
	printSummary(final)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return 0
}

func printSummary(s session.Snapshot) {
	fmt.Println(s.Status)
	if s.UserTranscript != "" {
		fmt.Printf("You: %s\n", s.UserTranscript)
	}
	if s.AgentTranscript != "" {
		fmt.Printf("Coach: %s\n", s.AgentTranscript)
	}
	if r := s.Recording; r != nil && r.Outcome == recording.OutcomeSaved {
		fmt.Printf("Recording #%d saved as %q.\n", r.ID, r.Title)
	}
}

// console splits stdin between the stop keypress and the title prompt: a
// line goes to a pending Read if there is one, otherwise it signals enter.
type console struct {
	enter   chan struct{}
	demand  chan struct{}
	answers chan string
	rest    []byte
}

func newConsole(r io.Reader) *console {
	c := &console{
		enter:   make(chan struct{}, 1),
		demand:  make(chan struct{}, 1),
		answers: make(chan string),
	}
	go c.dispatch(r)
	return c
}

func (c *console) dispatch(r io.Reader) {
	defer close(c.answers)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case <-c.demand:
			c.answers <- sc.Text()
		default:
			select {
			case c.enter <- struct{}{}:
			default:
			}
		}
	}
}

// Read serves one line at a time. End of input reads as io.EOF.
func (c *console) Read(p []byte) (int, error) {
	if len(c.rest) == 0 {
		select {
		case c.demand <- struct{}{}:
		default:
		}
		line, ok := <-c.answers
		if !ok {
			return 0, io.EOF
		}
		c.rest = []byte(line + "\n")
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}
