package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubChat struct {
	name  string
	out   string
	err   error
	calls int
}

func (s *stubChat) Name() string { return s.name }
func (s *stubChat) Complete(context.Context, ChatRequest) (string, error) {
	s.calls++
	return s.out, s.err
}

type stubEmbed struct {
	name string
	vec  []float32
	err  error
}

func (s *stubEmbed) Name() string                                     { return s.name }
func (s *stubEmbed) Embed(context.Context, string) ([]float32, error) { return s.vec, s.err }

func TestChatChainFallsBack(t *testing.T) {
	primary := &stubChat{name: "gemini", err: errors.New("quota")}
	secondary := &stubChat{name: "openai", out: "signal"}

	var fallbacks []string
	chain := NewChatChain(zap.NewNop(), primary, nil, secondary)
	chain.OnFallback = func(failed string, _ error) { fallbacks = append(fallbacks, failed) }

	out, err := chain.Complete(context.Background(), ChatRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "signal", out)
	assert.Equal(t, []string{"gemini"}, fallbacks)
}

func TestChatChainPrimaryWins(t *testing.T) {
	primary := &stubChat{name: "gemini", out: "first"}
	secondary := &stubChat{name: "openai", out: "second"}

	out, err := NewChatChain(zap.NewNop(), primary, secondary).Complete(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", out)
	assert.Zero(t, secondary.calls)
}

func TestChatChainAllFail(t *testing.T) {
	chain := NewChatChain(zap.NewNop(), &stubChat{name: "a", err: errors.New("boom")}, &stubChat{name: "b", err: errors.New("bang")})
	_, err := chain.Complete(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "bang")

	_, err = NewChatChain(zap.NewNop()).Complete(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestEmbedChainRejectsWrongDimension(t *testing.T) {
	short := &stubEmbed{name: "gemini", vec: make([]float32, 768)}
	full := &stubEmbed{name: "openai", vec: make([]float32, 3072)}

	vec, err := NewEmbedChain(zap.NewNop(), 3072, short, full).Embed(context.Background(), "t")
	require.NoError(t, err)
	assert.Len(t, vec, 3072)

	_, err = NewEmbedChain(zap.NewNop(), 3072, short).Embed(context.Background(), "t")
	assert.Error(t, err)
}
