package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"hn-digest/models"
	"hn-digest/queue"

	"go.uber.org/zap"
)

// ResultStore ist der Teil der Queue, den der Reduce-Job liest und beschreibt.
type ResultStore interface {
	ChildResults(ctx context.Context, parentID string) ([]queue.ChildResult, error)
	SaveCheckpoint(ctx context.Context, job *queue.Job, data []byte) error
}

// AnalysisStore ist der Teil der Datenbank, den die Jobs beschreiben.
type AnalysisStore interface {
	PersistAnalysis(ctx context.Context, story models.ScrapedStory, a *models.AnalysisDTO, embedding []float32, at time.Time) (string, error)
	RefreshManifest(ctx context.Context, now time.Time) (int64, error)
}

// reduceCheckpoint ist der Zwischenstand nach Synthese und Embedding.
type reduceCheckpoint struct {
	Analysis  *models.AnalysisDTO `json:"analysis"`
	Embedding []float32           `json:"embedding,omitempty"`
}

// JobRunner verteilt Jobs anhand ihrer Nutzdaten auf Map-Stufe, Synthese und Manifest-Refresh.
type JobRunner struct {
	Results     ResultStore
	Repo        AnalysisStore
	Map         *MapStage
	Synthesizer *Synthesizer
	Logger      *zap.Logger

	now func() time.Time
}

// NewJobRunner erstellt den Job-Dispatcher für beide Queues.
func NewJobRunner(results ResultStore, repo AnalysisStore, m *MapStage, s *Synthesizer, logger *zap.Logger) *JobRunner {
	return &JobRunner{Results: results, Repo: repo, Map: m, Synthesizer: s, Logger: logger, now: time.Now}
}

// Handle ist der queue.Handler für map-queue und reduce-queue.
func (r *JobRunner) Handle(ctx context.Context, job *queue.Job) (string, error) {
	payload, err := DecodePayload(job)
	if err != nil {
		return "", err
	}
	switch p := payload.(type) {
	case MapJob:
		return r.Map.ExtractArguments(ctx, p)
	case ReduceJob:
		return r.reduce(ctx, job, p)
	case RefreshJob:
		n, err := r.Repo.RefreshManifest(ctx, r.now())
		if err != nil {
			return "", err
		}
		r.Logger.Info("Manifest aktualisiert.", zap.Int64("dates", n))
		return strconv.FormatInt(n, 10), nil
	default:
		return "", queue.Permanent(fmt.Errorf("unbehandelter payload %T", payload))
	}
}

func (r *JobRunner) reduce(ctx context.Context, job *queue.Job, p ReduceJob) (string, error) {
	log := r.Logger.With(zap.String("job_id", job.ID), zap.String("story_id", p.Story.ID))

	var cp reduceCheckpoint
	if len(job.Checkpoint) > 0 {
		if err := json.Unmarshal(job.Checkpoint, &cp); err != nil {
			log.Warn("Checkpoint unlesbar, synthetisiere neu.", zap.Error(err))
			cp = reduceCheckpoint{}
		} else {
			log.Info("Verwende gespeicherten Checkpoint.", zap.Int("attempt", job.Attempts))
		}
	}

	if cp.Analysis == nil {
		results, err := r.Results.ChildResults(ctx, job.ID)
		if err != nil {
			return "", err
		}
		signals := make([]string, 0, len(results))
		for _, res := range results {
			signals = append(signals, res.Value)
		}
		log.Info("Starte Synthese.", zap.Int("signals", len(signals)))

		analysis, err := r.Synthesizer.Synthesize(ctx, p.Story, signals)
		if err != nil {
			return "", err
		}
		cp = reduceCheckpoint{
			Analysis:  analysis,
			Embedding: r.Synthesizer.Embed(ctx, p.Story.ID, analysis.SummaryText()),
		}
		data, err := json.Marshal(cp)
		if err != nil {
			return "", fmt.Errorf("checkpoint kodieren: %w", err)
		}
		if err := r.Results.SaveCheckpoint(ctx, job, data); err != nil {
			log.Warn("Checkpoint konnte nicht gespeichert werden.", zap.Error(err))
		}
	}

	id, err := r.Repo.PersistAnalysis(ctx, p.Story, cp.Analysis, cp.Embedding, r.now())
	if err != nil {
		return "", err
	}
	analysesPersisted.Inc()
	log.Info("Analyse gespeichert.", zap.String("analysis_id", id), zap.String("topic", string(cp.Analysis.Topic)),
		zap.Bool("embedding", cp.Embedding != nil))
	return id, nil
}

// RecordJob ist der OnFinish-Hook der Worker und schreibt Dauer und Ausgang jedes Versuchs.
func RecordJob(job *queue.Job, err error, elapsed time.Duration) {
	status := "completed"
	if err != nil {
		status = "failed"
	}
	jobsTotal.WithLabelValues(job.Queue, job.Name, status).Inc()
	jobDuration.WithLabelValues(job.Queue, job.Name).Observe(elapsed.Seconds())
}
