package providers

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNoProvider wird geliefert, wenn keine Provider konfiguriert sind.
var ErrNoProvider = errors.New("kein provider konfiguriert")

// ChatChain probiert die Provider der Reihe nach; der erste Erfolg gewinnt.
type ChatChain struct {
	providers []ChatProvider
	logger    *zap.Logger

	// OnFallback wird aufgerufen, wenn ein Provider fehlschlägt und der nächste übernimmt.
	OnFallback func(failed string, err error)
}

var _ ChatProvider = (*ChatChain)(nil)

// NewChatChain erstellt eine Fallback-Kette. nil-Provider werden übersprungen.
func NewChatChain(logger *zap.Logger, ps ...ChatProvider) *ChatChain {
	c := &ChatChain{logger: logger}
	for _, p := range ps {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

func (c *ChatChain) Name() string { return "chain" }

func (c *ChatChain) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrNoProvider
	}
	var errs []error
	for i, p := range c.providers {
		out, err := p.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
		if i < len(c.providers)-1 {
			c.logger.Warn("Provider fehlgeschlagen, Fallback auf nächsten Provider.",
				zap.String("failed", p.Name()), zap.String("next", c.providers[i+1].Name()), zap.Error(err))
			if c.OnFallback != nil {
				c.OnFallback(p.Name(), err)
			}
		}
	}
	return "", errors.Join(errs...)
}

// EmbedChain probiert die Embedder der Reihe nach und verlangt eine feste Dimension.
type EmbedChain struct {
	embedders  []Embedder
	dimensions int
	logger     *zap.Logger

	OnFallback func(failed string, err error)
}

var _ Embedder = (*EmbedChain)(nil)

// NewEmbedChain erstellt eine Fallback-Kette für Embeddings.
func NewEmbedChain(logger *zap.Logger, dimensions int, es ...Embedder) *EmbedChain {
	c := &EmbedChain{logger: logger, dimensions: dimensions}
	for _, e := range es {
		if e != nil {
			c.embedders = append(c.embedders, e)
		}
	}
	return c
}

func (c *EmbedChain) Name() string { return "chain" }

// Embed liefert das erste Embedding mit passender Dimension. Falsche Dimensionen zählen als Fehler.
func (c *EmbedChain) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(c.embedders) == 0 {
		return nil, ErrNoProvider
	}
	var errs []error
	for i, e := range c.embedders {
		vec, err := e.Embed(ctx, text)
		if err == nil && c.dimensions > 0 && len(vec) != c.dimensions {
			err = fmt.Errorf("falsche dimension: %d statt %d", len(vec), c.dimensions)
		}
		if err == nil {
			return vec, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
		if ctx.Err() != nil {
			break
		}
		if i < len(c.embedders)-1 {
			c.logger.Warn("Embedding fehlgeschlagen, Fallback auf nächsten Provider.",
				zap.String("failed", e.Name()), zap.Error(err))
			if c.OnFallback != nil {
				c.OnFallback(e.Name(), err)
			}
		}
	}
	return nil, errors.Join(errs...)
}
