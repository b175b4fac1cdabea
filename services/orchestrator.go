package services

import (
	"context"
	"fmt"
	"time"

	"hn-digest/config"
	"hn-digest/models"
	"hn-digest/queue"

	"go.uber.org/zap"
)

// FlowBroker ist der Teil der Queue, den der Orchestrator nutzt.
type FlowBroker interface {
	Add(ctx context.Context, spec queue.JobSpec) (string, bool, error)
	AddFlow(ctx context.Context, flow queue.FlowSpec) (queue.FlowHandle, error)
}

// RetryPolicy fasst Versuche und Backoff einer Stufe zusammen.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Orchestrator reiht pro Story einen Map-Reduce-Flow ein.
type Orchestrator struct {
	Broker        FlowBroker
	Map           RetryPolicy
	Reduce        RetryPolicy
	ManifestDelay time.Duration
	Logger        *zap.Logger

	now func() time.Time
}

// NewOrchestrator erstellt einen Orchestrator mit den Retry-Budgets aus der Konfiguration.
func NewOrchestrator(b FlowBroker, cfg *config.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		Broker:        b,
		Map:           RetryPolicy{Attempts: cfg.MapAttempts, Backoff: cfg.MapBackoff},
		Reduce:        RetryPolicy{Attempts: cfg.ReduceAttempts, Backoff: cfg.ReduceBackoff},
		ManifestDelay: cfg.ManifestDelay,
		Logger:        logger,
		now:           time.Now,
	}
}

// SubmitAnalysisFlow reiht einen Reduce-Job mit je einem Map-Kind pro Kommentargruppe ein.
func (o *Orchestrator) SubmitAnalysisFlow(ctx context.Context, story models.ScrapedStory, groups [][]models.CommentDTO) (queue.FlowHandle, error) {
	return o.submit(ctx, story, groups, "")
}

// ResubmitAnalysisFlow ist die Variante für die Neuverarbeitung gespeicherter Rohdaten.
func (o *Orchestrator) ResubmitAnalysisFlow(ctx context.Context, story models.ScrapedStory, groups [][]models.CommentDTO) (queue.FlowHandle, error) {
	return o.submit(ctx, story, groups, "reprocess-")
}

func (o *Orchestrator) submit(ctx context.Context, story models.ScrapedStory, groups [][]models.CommentDTO, tag string) (queue.FlowHandle, error) {
	if len(groups) == 0 {
		groups = [][]models.CommentDTO{{}}
	}
	stamp := o.now().UnixMilli()

	flow := queue.FlowSpec{
		Parent: queue.JobSpec{
			Queue: ReduceQueue,
			Name:  JobSynthesizeAnalysis,
			Data:  ReduceJob{Story: story.Header()},
			Opts: queue.JobOptions{
				JobID:    fmt.Sprintf("reduce-%s%s-%d", tag, story.ID, stamp),
				Attempts: o.Reduce.Attempts,
				Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: o.Reduce.Backoff},
			},
		},
	}
	for idx, group := range groups {
		if group == nil {
			group = []models.CommentDTO{}
		}
		flow.Children = append(flow.Children, queue.JobSpec{
			Queue: MapQueue,
			Name:  JobExtractArguments,
			Data:  MapJob{StoryID: story.ID, ChunkIndex: idx, Comments: group},
			Opts: queue.JobOptions{
				JobID:    fmt.Sprintf("map-%s%s-%d-%d", tag, story.ID, idx, stamp),
				Attempts: o.Map.Attempts,
				Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: o.Map.Backoff},
			},
		})
	}

	handle, err := o.Broker.AddFlow(ctx, flow)
	if err != nil {
		return queue.FlowHandle{}, fmt.Errorf("flow für story %s: %w", story.ID, err)
	}
	flowsSubmitted.Inc()
	o.Logger.Info("Analyse-Flow eingereiht.", zap.String("story_id", story.ID),
		zap.String("parent", handle.ParentID), zap.Int("children", len(handle.ChildIDs)))
	return handle, nil
}

// ScheduleManifestRefresh plant den verzögerten Manifest-Refresh. Innerhalb des Fensters ist jeder
// weitere Aufruf ein No-op; added meldet, ob ein neuer Job angelegt wurde.
func (o *Orchestrator) ScheduleManifestRefresh(ctx context.Context) (bool, error) {
	_, added, err := o.Broker.Add(ctx, queue.JobSpec{
		Queue: ReduceQueue,
		Name:  JobRefreshManifest,
		Data:  RefreshJob{},
		Opts: queue.JobOptions{
			JobID:            ManifestJobID,
			Attempts:         o.Reduce.Attempts,
			Backoff:          queue.Backoff{Type: queue.BackoffExponential, Delay: o.Reduce.Backoff},
			Delay:            o.ManifestDelay,
			RemoveOnComplete: true,
		},
	})
	if err != nil {
		return false, fmt.Errorf("manifest refresh: %w", err)
	}
	if added {
		o.Logger.Info("Manifest-Refresh geplant.", zap.Duration("delay", o.ManifestDelay))
	}
	return added, nil
}
