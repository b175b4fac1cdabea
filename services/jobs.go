package services

import (
	"fmt"

	"hn-digest/models"
	"hn-digest/queue"
)

// Queue- und Jobnamen der Pipeline.
const (
	MapQueue    = "map-queue"
	ReduceQueue = "reduce-queue"

	JobExtractArguments   = "extract-arguments"
	JobSynthesizeAnalysis = "synthesize-analysis"
	JobRefreshManifest    = "refresh-manifest"

	// ManifestJobID ist fest, damit mehrere Läufe im Verzögerungsfenster zu einem Refresh verschmelzen.
	ManifestJobID = "refresh-manifest"
)

// Payload ist die geschlossene Menge der Job-Nutzdaten: MapJob, ReduceJob oder RefreshJob.
type Payload interface {
	jobName() string
}

// MapJob ist eine Kommentargruppe einer Story.
type MapJob struct {
	StoryID    string              `json:"story_id"`
	ChunkIndex int                 `json:"chunk_index"`
	Comments   []models.CommentDTO `json:"comments"`
}

// ReduceJob trägt die Story ohne Kommentare.
type ReduceJob struct {
	Story models.ScrapedStory `json:"story"`
}

// RefreshJob hat keine Nutzdaten.
type RefreshJob struct{}

func (MapJob) jobName() string     { return JobExtractArguments }
func (ReduceJob) jobName() string  { return JobSynthesizeAnalysis }
func (RefreshJob) jobName() string { return JobRefreshManifest }

// DecodePayload entpackt die Nutzdaten anhand des Jobnamens. Unbekannte Namen sind permanente Fehler.
func DecodePayload(job *queue.Job) (Payload, error) {
	switch job.Name {
	case JobExtractArguments:
		var p MapJob
		if err := job.Decode(&p); err != nil {
			return nil, queue.Permanent(fmt.Errorf("map payload: %w", err))
		}
		return p, nil
	case JobSynthesizeAnalysis:
		var p ReduceJob
		if err := job.Decode(&p); err != nil {
			return nil, queue.Permanent(fmt.Errorf("reduce payload: %w", err))
		}
		return p, nil
	case JobRefreshManifest:
		return RefreshJob{}, nil
	default:
		return nil, queue.Permanent(fmt.Errorf("unbekannter job: %q", job.Name))
	}
}
