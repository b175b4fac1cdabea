package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hn-digest/models"
	"hn-digest/providers"
	"hn-digest/queue"

	"go.uber.org/zap"
)

var (
	// ErrSchemaInvalid wird geliefert, wenn auch die Reparatur kein gültiges Schema ergibt.
	ErrSchemaInvalid = errors.New("analysis does not match schema")
	// ErrInsufficientSignals wird geliefert, wenn weniger Signale vorliegen als MIN_SIGNALS verlangt.
	ErrInsufficientSignals = errors.New("not enough map signals")
)

// SynthesisState ist der Zustand der Schema-Validierung.
type SynthesisState int

const (
	StateDraft SynthesisState = iota
	StateValidated
	StateRepairAttempted
	StateFailed
)

func (s SynthesisState) String() string {
	switch s {
	case StateDraft:
		return "draft"
	case StateValidated:
		return "validated"
	case StateRepairAttempted:
		return "repair-attempted"
	default:
		return "failed"
	}
}

const synthesisSystemPrompt = "You write a daily tech digest for a sophisticated engineering audience. " +
	"You answer with a single JSON object and nothing else."

const analysisSchema = `{
  "topic": "AI Fundamentals|AI Applications|Politics|Others",
  "summary_paragraphs": ["<paragraph 1>", "<paragraph 2>", "<optional paragraph 3>"],
  "highlight": "<1-2 sentence stat, quote, or insight from the article>",
  "key_points": ["<point>", "..."],
  "article_sentiment": {"label": "<2-4 words>", "type": "positive|negative|mixed|neutral|debate", "description": "<author stance>", "estimated_agreement": "<n/a>"},
  "community_sentiments": [
    {"label": "<2-4 words>", "type": "positive|negative|mixed|neutral|debate", "description": "<~100 words with specifics from comments>", "estimated_agreement": "<~XX users>"}
  ]
}`

// Synthesizer erzeugt aus Artikel und Signalen eine schema-gültige Analyse samt Embedding.
type Synthesizer struct {
	Chat       providers.ChatProvider
	Embedder   providers.Embedder
	MinSignals int
	Logger     *zap.Logger
}

// NewSynthesizer erstellt die Reduce-Stufe.
func NewSynthesizer(chat providers.ChatProvider, embedder providers.Embedder, minSignals int, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{Chat: chat, Embedder: embedder, MinSignals: minSignals, Logger: logger}
}

// Synthesize erzeugt die Analyse. Ein ungültiger Entwurf bekommt genau einen Reparaturversuch;
// scheitert auch dieser, ist der Fehler permanent.
func (s *Synthesizer) Synthesize(ctx context.Context, story models.ScrapedStory, signals []string) (*models.AnalysisDTO, error) {
	log := s.Logger.With(zap.String("story_id", story.ID))
	if len(signals) < s.MinSignals {
		return nil, queue.Permanent(fmt.Errorf("%w: %d von mindestens %d", ErrInsufficientSignals, len(signals), s.MinSignals))
	}

	state := StateDraft
	raw, err := s.Chat.Complete(ctx, providers.ChatRequest{
		System: synthesisSystemPrompt, Prompt: synthesisPrompt(story, signals), JSON: true, Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("synthese für story %s: %w", story.ID, err)
	}

	for {
		analysis, verr := parseAnalysis(raw)
		if verr == nil {
			log.Debug("Analyse validiert.", zap.Stringer("from", state))
			return analysis, nil
		}

		switch state {
		case StateDraft:
			state = StateRepairAttempted
			log.Warn("Analyse ungültig, starte Reparatur.", zap.Error(verr))
			raw, err = s.Chat.Complete(ctx, providers.ChatRequest{
				System: synthesisSystemPrompt, Prompt: repairPrompt(raw, verr), JSON: true,
			})
			if err != nil {
				return nil, fmt.Errorf("reparatur für story %s: %w", story.ID, err)
			}
		default:
			state = StateFailed
			log.Error("Analyse auch nach Reparatur ungültig.", zap.Error(verr), zap.Stringer("state", state))
			return nil, queue.Permanent(fmt.Errorf("%w: %v", ErrSchemaInvalid, verr))
		}
	}
}

// Embed liefert das Embedding oder nil, wenn alle Provider scheitern. Die Analyse wird trotzdem gespeichert.
func (s *Synthesizer) Embed(ctx context.Context, storyID, text string) []float32 {
	if s.Embedder == nil {
		return nil
	}
	vec, err := s.Embedder.Embed(ctx, text)
	if err != nil {
		embeddingFailures.Inc()
		s.Logger.Warn("Embedding fehlgeschlagen, Analyse wird ohne Vektor gespeichert.",
			zap.String("story_id", storyID), zap.Error(err))
		return nil
	}
	return vec
}

func synthesisPrompt(story models.ScrapedStory, signals []string) string {
	discussion := "[No community signals available]"
	if len(signals) > 0 {
		parts := make([]string, len(signals))
		for i, sig := range signals {
			parts[i] = fmt.Sprintf("Signal %d:\n%s", i+1, sig)
		}
		discussion = strings.Join(parts, "\n\n")
	}

	return fmt.Sprintf(`Analyse the following Hacker News story thoroughly.

──── STORY METADATA ────
Title  : %s
URL    : %s
Points : %d
Author : %s

──── ARTICLE TEXT ────
%s

──── COMMUNITY SIGNALS ────
%s

──── INSTRUCTIONS ────
- summary_paragraphs: at least two paragraphs.
- highlight: a memorable insight or direct quote from the article.
- article_sentiment: exactly one cluster describing the article's own stance.
- community_sentiments: 3 or 4 distinct opinion clusters from the signals.
- topic must be exactly one of the four strings.

Return ONLY valid JSON matching this schema:
%s`, story.Title, story.URL, story.Points, story.Author, story.RawContent, discussion, analysisSchema)
}

func repairPrompt(raw string, verr error) string {
	return fmt.Sprintf(`Your previous answer did not match the required JSON schema.

VALIDATION ERROR:
%s

PREVIOUS ANSWER:
%s

Return ONLY the corrected JSON object matching this schema:
%s`, verr.Error(), raw, analysisSchema)
}

// parseAnalysis entfernt Code-Fences und Begleittext, dekodiert und validiert.
func parseAnalysis(raw string) (*models.AnalysisDTO, error) {
	payload, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var a models.AnalysisDTO
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func extractJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", errors.New("no json object in response")
	}
	return s[start : end+1], nil
}
