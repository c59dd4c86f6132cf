// Package gemini implements lab.Provider on top of the Google GenAI SDK.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	"google.golang.org/genai"

	"github.com/padelcore/padelcore/internal/lab"
)

var _ lab.Provider = (*Provider)(nil)

const (
	defaultModel    = "gemini-2.5-flash"
	defaultProModel = "gemini-2.5-pro"

	// thinkingBudget is the token budget for the deep-thinking and video
	// simulation requests.
	thinkingBudget int32 = 32768
)

// videoPrompt wraps the user request for the simulated clip analysis.
const videoPrompt = "Simulate an analysis of a padel match video based on this request: %q. " +
	"Describe the key movements, the likely errors and concrete suggestions for improvement " +
	"as if you had watched the video."

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used for image, search, maps and chat requests.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithProModel sets the reasoning model used for deep-thinking and video
// simulation requests.
func WithProModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.proModel = model
		}
	}
}

// WithBaseURL points the client at a different API endpoint, e.g. a local
// test server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements lab.Provider using the Gemini API.
type Provider struct {
	client     *genai.Client
	model      string
	proModel   string
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	p := &Provider{model: defaultModel, proModel: defaultProModel}
	for _, o := range opts {
		o(p)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  p.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: p.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	p.client = client
	return p, nil
}

// AnalyzeImage implements lab.Provider.
func (p *Provider) AnalyzeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromBytes(image, mimeType),
		genai.NewPartFromText(prompt),
	}, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini: analyze image: %w", err)
	}
	return resp.Text(), nil
}

// AnalyzeVideo implements lab.Provider.
func (p *Provider) AnalyzeVideo(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.proModel,
		genai.Text(fmt.Sprintf(videoPrompt, prompt)), thinkingConfig())
	if err != nil {
		return "", fmt.Errorf("gemini: analyze video: %w", err)
	}
	return resp.Text(), nil
}

// Think implements lab.Provider.
func (p *Provider) Think(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.proModel, genai.Text(prompt), thinkingConfig()) {
			if err != nil {
				yield("", fmt.Errorf("gemini: think: %w", err))
				return
			}
			if !yield(resp.Text(), nil) {
				return
			}
		}
	}
}

// Search implements lab.Provider.
func (p *Provider) Search(ctx context.Context, query string) (lab.Answer, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(query), &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	})
	if err != nil {
		return lab.Answer{}, fmt.Errorf("gemini: search: %w", err)
	}
	return answer(resp), nil
}

// SearchMaps implements lab.Provider.
func (p *Provider) SearchMaps(ctx context.Context, query string, at lab.LatLng) (lab.Answer, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(query), &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleMaps: &genai.GoogleMaps{}}},
		ToolConfig: &genai.ToolConfig{
			RetrievalConfig: &genai.RetrievalConfig{
				LatLng: &genai.LatLng{
					Latitude:  genai.Ptr(at.Latitude),
					Longitude: genai.Ptr(at.Longitude),
				},
			},
		},
	})
	if err != nil {
		return lab.Answer{}, fmt.Errorf("gemini: maps: %w", err)
	}
	return answer(resp), nil
}

// NewChat implements lab.Provider.
func (p *Provider) NewChat(ctx context.Context, instructions string) (lab.Chat, error) {
	var cfg *genai.GenerateContentConfig
	if instructions != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instructions, genai.RoleUser),
		}
	}
	c, err := p.client.Chats.Create(ctx, p.model, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: new chat: %w", err)
	}
	return &chat{c: c}, nil
}

type chat struct {
	c *genai.Chat
}

func (c *chat) Send(ctx context.Context, text string) (string, error) {
	resp, err := c.c.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", fmt.Errorf("gemini: chat: %w", err)
	}
	return resp.Text(), nil
}

// ── Helpers ────────────────────────────────────────────────────────────────────

func thinkingConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(thinkingBudget)},
	}
}

// answer extracts the text and the grounding sources that carry both a
// title and a URI.
func answer(resp *genai.GenerateContentResponse) lab.Answer {
	a := lab.Answer{Text: resp.Text()}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.GroundingMetadata == nil {
			continue
		}
		for _, ch := range cand.GroundingMetadata.GroundingChunks {
			switch {
			case ch == nil:
			case ch.Web != nil && ch.Web.URI != "" && ch.Web.Title != "":
				a.Sources = append(a.Sources, lab.Source{Kind: "web", Title: ch.Web.Title, URI: ch.Web.URI})
			case ch.Maps != nil && ch.Maps.URI != "" && ch.Maps.Title != "":
				a.Sources = append(a.Sources, lab.Source{Kind: "maps", Title: ch.Maps.Title, URI: ch.Maps.URI})
			}
		}
	}
	return a
}
