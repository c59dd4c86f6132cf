package recording

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// TitlePrompter asks the user to name a finished recording. It returns the
// chosen title, or "" when the user declines to save.
type TitlePrompter interface {
	PromptTitle(ctx context.Context, suggested string) (string, error)
}

// StaticTitle is a TitlePrompter that always answers with itself. The HTTP
// API uses it with the title sent alongside the stop request; the empty
// StaticTitle declines.
type StaticTitle string

// PromptTitle implements [TitlePrompter].
func (s StaticTitle) PromptTitle(context.Context, string) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// SuggestedTitle is the default title for a recording finalized at date.
func SuggestedTitle(date string) string {
	return "Session of " + date
}

// TerminalPrompter reads the title from a line of input. An empty line
// accepts the suggestion; "-" or end of input declines.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer
}

// PromptTitle implements [TitlePrompter]. The read is abandoned when ctx is
// cancelled.
func (p *TerminalPrompter) PromptTitle(ctx context.Context, suggested string) (string, error) {
	if p.Out != nil {
		fmt.Fprintf(p.Out, "Enter a title for the recorded session [%s] (\"-\" to discard): ", suggested)
	}

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("recording: prompt title: %w", ctx.Err())
	case r := <-ch:
		line := strings.TrimSpace(r.line)
		if r.err != nil && r.err != io.EOF {
			return "", fmt.Errorf("recording: prompt title: %w", r.err)
		}
		switch {
		case line == "-":
			return "", nil
		case line == "" && r.err == io.EOF:
			return "", nil
		case line == "":
			return suggested, nil
		}
		return line, nil
	}
}
