package services

import (
	"context"
	"fmt"
	"strings"

	"hn-digest/providers"

	"go.uber.org/zap"
)

// NeutralSignal ist das Signal für Stories ohne Diskussion. Es entsteht ohne Sprachmodell-Aufruf.
const NeutralSignal = "No community discussion was available for this story. Treat community sentiment as neutral and rely on the article."

const (
	mapCommentRunes = 600
	mapSystemPrompt = "You are an analyst condensing Hacker News discussions for a daily engineering digest. " +
		"Be specific, cite usernames where useful, and never invent comments."
)

// MapStage verdichtet eine Kommentargruppe zu einem kurzen Signaltext.
type MapStage struct {
	Chat   providers.ChatProvider
	Logger *zap.Logger
}

// NewMapStage erstellt die Map-Stufe.
func NewMapStage(chat providers.ChatProvider, logger *zap.Logger) *MapStage {
	return &MapStage{Chat: chat, Logger: logger}
}

// ExtractArguments liefert den Signaltext einer Gruppe. Fehler gehen an die Retry-Policy der Queue.
func (m *MapStage) ExtractArguments(ctx context.Context, job MapJob) (string, error) {
	if len(job.Comments) == 0 {
		return NeutralSignal, nil
	}

	var b strings.Builder
	for _, c := range job.Comments {
		if c.ParentID == nil {
			fmt.Fprintf(&b, "[%s]: %s\n", c.Author, Truncate(c.Text, mapCommentRunes))
		} else {
			fmt.Fprintf(&b, "  ↳ [%s -> #%s]: %s\n", c.Author, *c.ParentID, Truncate(c.Text, mapCommentRunes))
		}
	}

	prompt := fmt.Sprintf(`Below are %d comments (group %d) from a Hacker News thread.
Extract the key technical arguments, points of agreement and disagreement, and the overall sentiment.
Answer in at most 150 words of plain text.

COMMENTS:
%s`, len(job.Comments), job.ChunkIndex, b.String())

	out, err := m.Chat.Complete(ctx, providers.ChatRequest{System: mapSystemPrompt, Prompt: prompt, Temperature: 0.2})
	if err != nil {
		return "", fmt.Errorf("signal für story %s gruppe %d: %w", job.StoryID, job.ChunkIndex, err)
	}
	return strings.TrimSpace(out), nil
}
