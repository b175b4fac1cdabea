package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"

	"hn-digest/models"
	"hn-digest/providers"
)

// Provider liefert deterministische Antworten ohne Netzwerkzugriff (MOCK_LLM=true).
type Provider struct {
	Dimensions int
}

var (
	_ providers.ChatProvider = (*Provider)(nil)
	_ providers.Embedder     = (*Provider)(nil)
)

func (p *Provider) Name() string { return "mock" }

// Complete liefert für JSON-Anfragen eine schema-gültige Analyse, sonst ein kurzes Signal.
func (p *Provider) Complete(_ context.Context, req providers.ChatRequest) (string, error) {
	if !req.JSON {
		return fmt.Sprintf("[MOCK SIGNAL] %d chars of discussion reviewed.", len(req.Prompt)), nil
	}
	article := models.SentimentCluster{
		Label: "Mock article stance", Type: models.SentimentNeutral,
		Description: "The article is summarized by the mock provider.", EstimatedAgreement: "n/a",
	}
	a := models.AnalysisDTO{
		Topic: models.TopicOthers,
		SummaryParagraphs: []string{
			"[MOCK SUMMARY] This is an automated mock summary of the story.",
			"[MOCK SUMMARY] It stands in for a language model during local runs.",
		},
		Highlight:        "Mock highlight.",
		KeyPoints:        []string{"Mock key point"},
		ArticleSentiment: &article,
		CommunitySentiments: []models.SentimentCluster{
			{Label: "Supporters", Type: models.SentimentPositive, Description: "Mock supporters.", EstimatedAgreement: "~10 users"},
			{Label: "Critics", Type: models.SentimentNegative, Description: "Mock critics.", EstimatedAgreement: "~5 users"},
			{Label: "Debaters", Type: models.SentimentDebate, Description: "Mock debate.", EstimatedAgreement: "~3 users"},
		},
	}
	out, err := json.Marshal(a)
	return string(out), err
}

// Embed liefert einen aus dem Text abgeleiteten, stabilen Vektor.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.TrimSpace(text)))
	seed := h.Sum32()

	vec := make([]float32, p.Dimensions)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%2000)/1000 - 1
	}
	return vec, nil
}
