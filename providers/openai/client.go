package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"hn-digest/config"
	"hn-digest/providers"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
)

// Client spricht eine OpenAI-kompatible API an und dient als sekundärer Provider.
type Client struct {
	client         openai.Client
	configured     bool
	model          string
	embeddingModel string
	dimensions     int64
	timeout        time.Duration
	logger         *zap.Logger
}

var (
	_ providers.ChatProvider = (*Client)(nil)
	_ providers.Embedder     = (*Client)(nil)
)

// NewClient erstellt einen OpenAI-kompatiblen Client aus der Konfiguration.
// Wiederholungen übernimmt die Fallback-Kette, daher macht das SDK selbst keine.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.OpenAIBaseURL, "/")
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.OpenAIAPIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.LLMTimeout}),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL+"/"))
	}
	return &Client{
		client:         openai.NewClient(opts...),
		configured:     cfg.OpenAIAPIKey != "" && baseURL != "",
		model:          cfg.OpenAIModel,
		embeddingModel: cfg.OpenAIEmbeddingModel,
		dimensions:     int64(cfg.EmbeddingDimensions),
		timeout:        cfg.LLMTimeout,
		logger:         logger.With(zap.String("provider", "openai")),
	}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Complete sendet eine Chat-Completion-Anfrage, bei JSON-Anfragen im JSON-Modus.
func (c *Client) Complete(ctx context.Context, req providers.ChatRequest) (string, error) {
	if !c.configured {
		return "", errors.New("openai client misconfigured")
	}

	params := openai.ChatCompletionNewParams{Model: openai.ChatModel(c.model)}
	if req.System != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.System))
	}
	params.Messages = append(params.Messages, openai.UserMessage(req.Prompt))
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("openai: leere antwort")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed erzeugt ein Embedding mit fester Dimension.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.configured {
		return nil, errors.New("openai client misconfigured")
	}

	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:          openai.EmbeddingModel(c.embeddingModel),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		params.Dimensions = openai.Int(c.dimensions)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embed: keine embeddings in der antwort")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
