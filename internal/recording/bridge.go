// Package recording buffers the local media recording and the model
// transcript of a coaching session and, when the session ends, turns them
// into one saved [store.Recording].
//
// The [Bridge] runs once per session. An empty buffer produces no write; a
// declined title discards the data; otherwise the recording is saved. The
// buffer and transcript are cleared in every path that had data.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/padelcore/padelcore/internal/observe"
	"github.com/padelcore/padelcore/pkg/store"
)

var (
	// ErrEmptyRecording means the recorder produced no data.
	ErrEmptyRecording = errors.New("recording: no data recorded")

	// ErrPersistence wraps a failed store write.
	ErrPersistence = errors.New("recording: persistence failed")
)

// Outcome is how a finalize ended.
type Outcome int

const (
	// OutcomeNoData means the buffer was empty; nothing was written.
	OutcomeNoData Outcome = iota

	// OutcomeCancelled means the user declined to name the recording.
	OutcomeCancelled

	// OutcomeSaved means the recording was stored.
	OutcomeSaved

	// OutcomeFailed means the store rejected the write.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoData:
		return "no_data"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeSaved:
		return "saved"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Status messages shown while finalizing.
const (
	StatusNoData     = "Error: the recording finished without data."
	StatusProcessing = "Processing video..."
	StatusSaving     = "Saving video..."
	StatusFailed     = "Error saving the video."
	StatusCancelled  = "Save cancelled by the user."
)

// StatusSaved returns the status for a stored recording.
func StatusSaved(title string) string {
	return fmt.Sprintf("Video %q saved.", title)
}

// Request is the input to one [Bridge.Finalize].
type Request struct {
	Buffer     *Buffer
	Transcript *Transcript

	// Prompter names the recording. A nil Prompter declines.
	Prompter TitlePrompter

	// OnStatus, if set, receives every status change in order.
	OnStatus func(status string)
}

// Result describes a finished finalize.
type Result struct {
	Outcome Outcome
	ID      int64
	Title   string
	Status  string
	Err     error
}

// Bridge persists finished recordings to a store.
type Bridge struct {
	store   store.Store
	metrics *observe.Metrics
	now     func() time.Time
}

// Option is a functional option for configuring a Bridge.
type Option func(*Bridge)

// WithMetrics records outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithClock overrides the time source used for the recording date.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// NewBridge returns a Bridge writing to s.
func NewBridge(s store.Store, opts ...Option) *Bridge {
	b := &Bridge{store: s, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Finalize assembles req.Buffer into one media object, asks for a title and
// saves it together with the transcript. It is called at most once per
// session. The returned error is non-nil only for [OutcomeFailed] and wraps
// [ErrPersistence].
func (b *Bridge) Finalize(ctx context.Context, req Request) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "recording.finalize")
	defer span.End()
	log := observe.Logger(ctx)

	res := b.finalize(ctx, req)
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	if b.metrics != nil {
		b.metrics.RecordRecording(ctx, res.Outcome.String())
	}

	switch res.Outcome {
	case OutcomeNoData:
		log.Warn("recording: no data was recorded")
	case OutcomeFailed:
		log.Error("recording: save failed", "title", res.Title, "err", res.Err)
	default:
		log.Info("recording: finalized", "outcome", res.Outcome.String(), "id", res.ID, "title", res.Title)
	}
	return res, res.Err
}

func (b *Bridge) finalize(ctx context.Context, req Request) Result {
	report := func(r Result) Result {
		if req.OnStatus != nil {
			req.OnStatus(r.Status)
		}
		return r
	}
	status := func(s string) {
		if req.OnStatus != nil {
			req.OnStatus(s)
		}
	}

	var media []byte
	var err error
	if req.Buffer != nil {
		media, err = req.Buffer.Take()
	} else {
		err = ErrEmptyRecording
	}
	if err != nil {
		// The transcript belongs to the same session and goes with it.
		if req.Transcript != nil {
			req.Transcript.Reset()
		}
		return report(Result{Outcome: OutcomeNoData, Status: StatusNoData})
	}

	var analysis string
	if req.Transcript != nil {
		analysis = req.Transcript.Take()
	}

	status(StatusProcessing)
	date := b.now()
	suggested := SuggestedTitle(date.Format("2006-01-02"))

	var title string
	if req.Prompter != nil {
		title, err = req.Prompter.PromptTitle(ctx, suggested)
		if err != nil {
			slog.Warn("recording: title prompt failed, discarding", "err", err)
			title = ""
		}
	}
	if title == "" {
		return report(Result{Outcome: OutcomeCancelled, Status: StatusCancelled})
	}

	status(StatusSaving)
	id, err := b.store.Save(ctx, store.Recording{
		Title:    title,
		Date:     date,
		MIMEType: req.Buffer.MIMEType(),
		Media:    media,
		Analysis: analysis,
	})
	if err != nil {
		return report(Result{
			Outcome: OutcomeFailed,
			Title:   title,
			Status:  StatusFailed,
			Err:     fmt.Errorf("%w: %w", ErrPersistence, err),
		})
	}
	return report(Result{Outcome: OutcomeSaved, ID: id, Title: title, Status: StatusSaved(title)})
}
