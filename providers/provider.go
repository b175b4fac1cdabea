package providers

import (
	"context"

	"hn-digest/models"
)

// FeedSource ist die Schnittstelle zur Hacker-News-API.
type FeedSource interface {
	// ListTopItemIDs liefert die aktuell trendenden IDs in Feed-Reihenfolge, höchstens limit viele.
	ListTopItemIDs(ctx context.Context, limit int) ([]int64, error)

	// FetchItem liefert einen einzelnen Eintrag.
	FetchItem(ctx context.Context, id int64) (*models.RawItem, error)
}

// ChatRequest beschreibt einen Aufruf an ein Sprachmodell.
type ChatRequest struct {
	System      string
	Prompt      string
	JSON        bool
	Temperature float32
}

// ChatProvider ist ein Sprachmodell, das Text zu einem Prompt erzeugt (z.B. Gemini, OpenAI).
type ChatProvider interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "gemini").
	Name() string
}

// Embedder erzeugt Vektor-Embeddings für einen Text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}
