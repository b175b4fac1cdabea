package services

import (
	"context"
	"testing"
	"time"

	"hn-digest/config"
	"hn-digest/models"
	"hn-digest/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingBroker struct {
	flows []queue.FlowSpec
	jobs  map[string]queue.JobSpec
}

func (b *recordingBroker) Add(_ context.Context, spec queue.JobSpec) (string, bool, error) {
	if b.jobs == nil {
		b.jobs = map[string]queue.JobSpec{}
	}
	if _, ok := b.jobs[spec.Opts.JobID]; ok {
		return spec.Opts.JobID, false, nil
	}
	b.jobs[spec.Opts.JobID] = spec
	return spec.Opts.JobID, true, nil
}

func (b *recordingBroker) AddFlow(_ context.Context, flow queue.FlowSpec) (queue.FlowHandle, error) {
	b.flows = append(b.flows, flow)
	h := queue.FlowHandle{ParentID: flow.Parent.Opts.JobID}
	for _, c := range flow.Children {
		h.ChildIDs = append(h.ChildIDs, c.Opts.JobID)
	}
	return h, nil
}

func newTestOrchestrator(t *testing.T, b FlowBroker) *Orchestrator {
	o := NewOrchestrator(b, &config.Config{
		MapAttempts: 5, MapBackoff: 5 * time.Second,
		ReduceAttempts: 3, ReduceBackoff: 10 * time.Second,
		ManifestDelay: 5 * time.Minute,
	}, zaptest.NewLogger(t))
	o.now = func() time.Time { return time.UnixMilli(1767225600123) }
	return o
}

func TestSubmitAnalysisFlowShape(t *testing.T) {
	b := &recordingBroker{}
	story := models.ScrapedStory{ID: "111", Title: "T", Comments: comments(120)}

	h, err := newTestOrchestrator(t, b).SubmitAnalysisFlow(context.Background(), story, Chunk(story.Comments, 50))
	require.NoError(t, err)
	assert.Equal(t, "reduce-111-1767225600123", h.ParentID)
	assert.Equal(t, []string{"map-111-0-1767225600123", "map-111-1-1767225600123", "map-111-2-1767225600123"}, h.ChildIDs)

	require.Len(t, b.flows, 1)
	flow := b.flows[0]
	assert.Equal(t, ReduceQueue, flow.Parent.Queue)
	assert.Equal(t, JobSynthesizeAnalysis, flow.Parent.Name)
	assert.Equal(t, 3, flow.Parent.Opts.Attempts)
	assert.Equal(t, queue.Backoff{Type: queue.BackoffExponential, Delay: 10 * time.Second}, flow.Parent.Opts.Backoff)
	assert.Empty(t, flow.Parent.Data.(ReduceJob).Story.Comments, "parent carries the story without comments")

	for i, c := range flow.Children {
		assert.Equal(t, MapQueue, c.Queue)
		assert.Equal(t, JobExtractArguments, c.Name)
		assert.Equal(t, 5, c.Opts.Attempts)
		assert.Equal(t, i, c.Data.(MapJob).ChunkIndex)
	}
	assert.Len(t, flow.Children[2].Data.(MapJob).Comments, 20)
}

func TestResubmitUsesDistinctIDs(t *testing.T) {
	b := &recordingBroker{}
	h, err := newTestOrchestrator(t, b).ResubmitAnalysisFlow(context.Background(), models.ScrapedStory{ID: "222"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "reduce-reprocess-222-1767225600123", h.ParentID)
	require.Len(t, h.ChildIDs, 1)
	assert.Equal(t, []models.CommentDTO{}, b.flows[0].Children[0].Data.(MapJob).Comments)
}

func TestScheduleManifestRefreshCollapses(t *testing.T) {
	b := &recordingBroker{}
	o := newTestOrchestrator(t, b)

	added, err := o.ScheduleManifestRefresh(context.Background())
	require.NoError(t, err)
	assert.True(t, added)
	added, err = o.ScheduleManifestRefresh(context.Background())
	require.NoError(t, err)
	assert.False(t, added)

	spec := b.jobs[ManifestJobID]
	assert.Equal(t, 5*time.Minute, spec.Opts.Delay)
	assert.True(t, spec.Opts.RemoveOnComplete)
	assert.Equal(t, JobRefreshManifest, spec.Name)
}
