package lab

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/padelcore/padelcore/internal/observe"
)

// Chat defaults.
const (
	DefaultChatInstructions = "You are a friendly, knowledgeable padel assistant. Give clear, concise answers."
	ChatGreeting            = "Hi! I'm your padel assistant. How can I help you today?"
	defaultMaxChats         = 100
)

// Service is the entry point for lab operations. It is safe for concurrent
// use.
type Service struct {
	provider         Provider
	metrics          *observe.Metrics
	chatInstructions string
	maxChats         int

	mu    sync.Mutex
	chats map[string]*chatEntry
}

type chatEntry struct {
	chat    Chat
	created time.Time
}

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithMetrics records lab latency and request counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithChatInstructions overrides the system instruction of new chats.
func WithChatInstructions(instructions string) Option {
	return func(s *Service) {
		if instructions != "" {
			s.chatInstructions = instructions
		}
	}
}

// WithMaxChats bounds the number of open chats; the oldest is dropped when
// a new one would exceed it. Default 100.
func WithMaxChats(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxChats = n
		}
	}
}

// NewService returns a Service backed by p.
func NewService(p Provider, opts ...Option) *Service {
	s := &Service{
		provider:         p,
		chatInstructions: DefaultChatInstructions,
		maxChats:         defaultMaxChats,
		chats:            make(map[string]*chatEntry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AnalyzeImage answers prompt about image. mimeType must be an image type.
func (s *Service) AnalyzeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if strings.TrimSpace(prompt) == "" || len(image) == 0 {
		return "", fmt.Errorf("%w: prompt and image are required", ErrInvalidInput)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%w: unsupported media type %q", ErrInvalidInput, mimeType)
	}
	return observed(ctx, s, "image", func(ctx context.Context) (string, error) {
		return s.provider.AnalyzeImage(ctx, prompt, image, mimeType)
	})
}

// AnalyzeVideo returns a simulated analysis for prompt.
func (s *Service) AnalyzeVideo(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	return observed(ctx, s, "video", func(ctx context.Context) (string, error) {
		return s.provider.AnalyzeVideo(ctx, prompt)
	})
}

// Think streams the deep-thinking answer to prompt. Iteration stops at the
// first error, which is yielded once.
func (s *Service) Think(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if strings.TrimSpace(prompt) == "" {
			yield("", fmt.Errorf("%w: prompt is required", ErrInvalidInput))
			return
		}
		ctx, span := observe.StartSpan(ctx, "lab.think")
		defer span.End()
		start := time.Now()
		var err error
		defer func() { s.record(ctx, span, "think", start, err) }()

		for chunk, cerr := range s.provider.Think(ctx, prompt) {
			if cerr != nil {
				err = fmt.Errorf("lab: think: %w", cerr)
				yield("", err)
				return
			}
			if chunk == "" {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Search answers query grounded on the web.
func (s *Service) Search(ctx context.Context, query string) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	return observed(ctx, s, "search", func(ctx context.Context) (Answer, error) {
		return s.provider.Search(ctx, query)
	})
}

// SearchMaps answers query grounded on maps results near at.
func (s *Service) SearchMaps(ctx context.Context, query string, at LatLng) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	if at.Latitude < -90 || at.Latitude > 90 || at.Longitude < -180 || at.Longitude > 180 {
		return Answer{}, fmt.Errorf("%w: position %v out of range", ErrInvalidInput, at)
	}
	return observed(ctx, s, "maps", func(ctx context.Context) (Answer, error) {
		return s.provider.SearchMaps(ctx, query, at)
	})
}

// ── Chats ────────────────────────────────────────────────────────────────────

// StartChat opens a chat and returns its ID and greeting.
func (s *Service) StartChat(ctx context.Context) (id, greeting string, err error) {
	chat, err := observed(ctx, s, "chat_start", func(ctx context.Context) (Chat, error) {
		return s.provider.NewChat(ctx, s.chatInstructions)
	})
	if err != nil {
		return "", "", err
	}
	id = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chats) >= s.maxChats {
		s.evictOldestLocked()
	}
	s.chats[id] = &chatEntry{chat: chat, created: time.Now()}
	return id, ChatGreeting, nil
}

// SendChat sends text to the chat with the given ID and returns the reply.
func (s *Service) SendChat(ctx context.Context, id, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	s.mu.Lock()
	entry, ok := s.chats[id]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	return observed(ctx, s, "chat", func(ctx context.Context) (string, error) {
		return entry.chat.Send(ctx, text)
	})
}

// EndChat forgets the chat. Unknown IDs are ignored.
func (s *Service) EndChat(id string) {
	s.mu.Lock()
	delete(s.chats, id)
	s.mu.Unlock()
}

// Chats returns the number of open chats.
func (s *Service) Chats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats)
}

func (s *Service) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range s.chats {
		if oldestID == "" || e.created.Before(oldest) {
			oldestID, oldest = id, e.created
		}
	}
	delete(s.chats, oldestID)
}

// ── Instrumentation ──────────────────────────────────────────────────────────

// observed runs fn inside a span and records its latency and outcome.
func observed[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := observe.StartSpan(ctx, "lab."+op)
	defer span.End()
	start := time.Now()
	v, err := fn(ctx)
	if err != nil {
		err = fmt.Errorf("lab: %s: %w", op, err)
	}
	s.record(ctx, span, op, start, err)
	return v, err
}

func (s *Service) record(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Warn("lab: request failed", "op", op, "err", err)
	}
	if s.metrics == nil {
		return
	}
	s.metrics.LabDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("op", op)))
	s.metrics.RecordProviderRequest(ctx, "lab", op, status)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "lab", op)
	}
}
