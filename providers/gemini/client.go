package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hn-digest/config"
	"hn-digest/providers"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Client ist der primäre Sprachmodell-Provider (Chat und Embeddings) über die Gemini-API.
type Client struct {
	client         *genai.Client
	model          string
	embeddingModel string
	dimensions     int32
	timeout        time.Duration
	logger         *zap.Logger
}

var (
	_ providers.ChatProvider = (*Client)(nil)
	_ providers.Embedder     = (*Client)(nil)
)

// NewClient erstellt einen Gemini-Client. Ohne API-Key wird ein Fehler geliefert.
func NewClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("GEMINI_API_KEY ist nicht gesetzt")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.GeminiAPIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.GeminiBaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("fehler beim erstellen des gemini clients: %w", err)
	}
	return &Client{
		client:         gc,
		model:          cfg.GeminiModel,
		embeddingModel: cfg.GeminiEmbeddingModel,
		dimensions:     int32(cfg.EmbeddingDimensions),
		timeout:        cfg.LLMTimeout,
		logger:         logger.With(zap.String("provider", "gemini")),
	}, nil
}

func (c *Client) Name() string { return "gemini" }

// withTimeout begrenzt jeden API-Aufruf, damit ein hängender Provider keine Lease unbegrenzt hält.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Complete erzeugt eine Antwort. Bei JSON-Anfragen wird der JSON-Modus der API aktiviert.
func (c *Client) Complete(ctx context.Context, req providers.ChatRequest) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: req.Prompt}},
		Role:  "user",
	}}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		cfg.Temperature = &temp
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini: leere antwort")
	}
	return text, nil
}

// Embed erzeugt ein Embedding mit der konfigurierten Dimension.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}
	dims := c.dimensions
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("gemini embed: keine embeddings in der antwort")
	}
	return resp.Embeddings[0].Values, nil
}
