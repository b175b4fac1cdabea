package services

import (
	"context"
	"errors"
	"testing"

	"hn-digest/models"
	"hn-digest/providers"
	"hn-digest/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s stubEmbedder) Name() string { return "stub" }

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) { return s.vec, s.err }

var testStory = models.ScrapedStory{ID: "42", Title: "Show HN: Thing", URL: "https://example.com", Points: 99, Author: "pg", RawContent: "Body"}

func TestSynthesizeValidOnFirstTry(t *testing.T) {
	chat := pipelineChat(t)
	s := NewSynthesizer(chat, nil, 0, zaptest.NewLogger(t))

	a, err := s.Synthesize(context.Background(), testStory, []string{"sig one", "sig two"})
	require.NoError(t, err)
	assert.Equal(t, models.TopicAIApplications, a.Topic)
	assert.Len(t, a.CommunitySentiments, 3)
	require.Equal(t, 1, chat.calls())

	req := chat.request(1)
	assert.True(t, req.JSON)
	assert.Contains(t, req.Prompt, "Signal 1:\nsig one")
	assert.Contains(t, req.Prompt, "Signal 2:\nsig two")
	assert.Contains(t, req.Prompt, "Show HN: Thing")
}

func TestSynthesizeStripsFencesAndProse(t *testing.T) {
	body := analysisJSON(t, 4)
	chat := &stubChat{reply: func(int, providers.ChatRequest) (string, error) {
		return "Here you go:\n```json\n" + body + "\n```\nHope this helps.", nil
	}}

	a, err := NewSynthesizer(chat, nil, 0, zaptest.NewLogger(t)).Synthesize(context.Background(), testStory, nil)
	require.NoError(t, err)
	assert.Len(t, a.CommunitySentiments, 4)
	assert.Contains(t, chat.request(1).Prompt, "[No community signals available]")
}

func TestSynthesizeRepairsOnce(t *testing.T) {
	invalid := analysisJSON(t, 2)
	valid := analysisJSON(t, 3)
	chat := &stubChat{reply: func(n int, _ providers.ChatRequest) (string, error) {
		if n == 1 {
			return invalid, nil
		}
		return valid, nil
	}}

	a, err := NewSynthesizer(chat, nil, 0, zaptest.NewLogger(t)).Synthesize(context.Background(), testStory, []string{"s"})
	require.NoError(t, err)
	assert.Len(t, a.CommunitySentiments, 3)
	require.Equal(t, 2, chat.calls())

	repair := chat.request(2)
	assert.Contains(t, repair.Prompt, "VALIDATION ERROR")
	assert.Contains(t, repair.Prompt, "CommunitySentiments")
	assert.Contains(t, repair.Prompt, invalid)
}

func TestSynthesizeFailsPermanentlyAfterRepair(t *testing.T) {
	chat := &stubChat{reply: func(int, providers.ChatRequest) (string, error) {
		return `{"topic": "Sports"}`, nil
	}}

	a, err := NewSynthesizer(chat, nil, 0, zaptest.NewLogger(t)).Synthesize(context.Background(), testStory, []string{"s"})
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrSchemaInvalid)
	assert.True(t, queue.IsPermanent(err))
	assert.Equal(t, 2, chat.calls())
}

func TestSynthesizeNoJSONCountsAsInvalid(t *testing.T) {
	chat := &stubChat{reply: func(int, providers.ChatRequest) (string, error) { return "I cannot help with that.", nil }}

	_, err := NewSynthesizer(chat, nil, 0, zaptest.NewLogger(t)).Synthesize(context.Background(), testStory, nil)
	assert.ErrorIs(t, err, ErrSchemaInvalid)
	assert.Equal(t, 2, chat.calls())
}

func TestSynthesizeProviderErrorIsRetryable(t *testing.T) {
	boom := errors.New("upstream 503")
	chat := &stubChat{reply: func(int, providers.ChatRequest) (string, error) { return "", boom }}

	_, err := NewSynthesizer(chat, nil, 0, zaptest.NewLogger(t)).Synthesize(context.Background(), testStory, nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, queue.IsPermanent(err))
}

func TestSynthesizeMinSignals(t *testing.T) {
	chat := pipelineChat(t)
	s := NewSynthesizer(chat, nil, 2, zaptest.NewLogger(t))

	_, err := s.Synthesize(context.Background(), testStory, []string{"only one"})
	assert.ErrorIs(t, err, ErrInsufficientSignals)
	assert.True(t, queue.IsPermanent(err))
	assert.Zero(t, chat.calls())

	_, err = s.Synthesize(context.Background(), testStory, []string{"one", "two"})
	assert.NoError(t, err)
}

func TestEmbedReturnsNilOnFailure(t *testing.T) {
	s := NewSynthesizer(nil, stubEmbedder{err: errors.New("all providers down")}, 0, zaptest.NewLogger(t))
	assert.Nil(t, s.Embed(context.Background(), "42", "text"))

	s.Embedder = stubEmbedder{vec: []float32{0.1, 0.2}}
	assert.Equal(t, []float32{0.1, 0.2}, s.Embed(context.Background(), "42", "text"))

	s.Embedder = nil
	assert.Nil(t, s.Embed(context.Background(), "42", "text"))
}

func TestSynthesisStateString(t *testing.T) {
	assert.Equal(t, "draft", StateDraft.String())
	assert.Equal(t, "repair-attempted", StateRepairAttempted.String())
	assert.Equal(t, "failed", StateFailed.String())
}
