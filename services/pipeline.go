package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"hn-digest/config"
	"hn-digest/models"
	"hn-digest/providers"

	"go.uber.org/zap"
)

// StoryStore ist der Teil der Datenbank, den die Pipeline nutzt.
type StoryStore interface {
	AnalyzedStoryIDs(ctx context.Context) (map[string]struct{}, error)
	SaveRawStory(ctx context.Context, story models.ScrapedStory) error
	AllStories(ctx context.Context) ([]models.Story, error)
}

// ArticleSource liefert den bereinigten Artikeltext oder den Platzhalter für fehlgeschlagene Extraktion.
type ArticleSource interface {
	Extract(ctx context.Context, url string) string
}

// StoryArchiver archiviert Roh-Snapshots.
type StoryArchiver interface {
	ArchiveStory(ctx context.Context, story models.ScrapedStory, at time.Time) (string, error)
}

// HarvestReport fasst einen Harvest-Lauf zusammen.
type HarvestReport struct {
	Candidates int `json:"candidates"`
	Skipped    int `json:"skipped"`
	Submitted  int `json:"submitted"`
	Failed     int `json:"failed"`
	Comments   int `json:"comments"`
}

// Pipeline verbindet Feed, Harvester, Extraktor, Rohdatenspeicher und Orchestrator.
type Pipeline struct {
	Feed         providers.FeedSource
	Harvester    *Harvester
	Extractor    ArticleSource
	Repo         StoryStore
	Orchestrator *Orchestrator
	Archiver     StoryArchiver // optional
	Logger       *zap.Logger

	storyLimit     int
	candidateLimit int
	chunkSize      int
	now            func() time.Time
}

// NewPipeline erstellt die Pipeline. archiver darf nil sein.
func NewPipeline(cfg *config.Config, feed providers.FeedSource, harvester *Harvester, extractor ArticleSource,
	repo StoryStore, orch *Orchestrator, archiver StoryArchiver, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		Feed:           feed,
		Harvester:      harvester,
		Extractor:      extractor,
		Repo:           repo,
		Orchestrator:   orch,
		Archiver:       archiver,
		Logger:         logger,
		storyLimit:     cfg.HNStoryLimit,
		candidateLimit: cfg.HNCandidateLimit,
		chunkSize:      cfg.ChunkSize,
		now:            time.Now,
	}
}

// FilterCandidates entfernt bereits analysierte Stories und behält die Reihenfolge bei.
func FilterCandidates(ids []int64, skip map[string]struct{}) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, done := skip[strconv.FormatInt(id, 10)]; done {
			continue
		}
		out = append(out, id)
	}
	return out
}

// RunHarvest sammelt neue Top-Stories und reiht pro Story einen Analyse-Flow ein.
// Fehler einzelner Stories brechen den Lauf nicht ab.
func (p *Pipeline) RunHarvest(ctx context.Context) (HarvestReport, error) {
	var report HarvestReport
	log := p.Logger.With(zap.String("run", "harvest"))

	skip, err := p.Repo.AnalyzedStoryIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("fehler beim Laden analysierter Stories: %w", err)
	}
	ids, err := p.Feed.ListTopItemIDs(ctx, p.candidateLimit)
	if err != nil {
		return report, fmt.Errorf("fehler beim Laden der Top-Stories: %w", err)
	}
	candidates := FilterCandidates(ids, skip)
	report.Candidates = len(ids)
	report.Skipped = len(ids) - len(candidates)
	log.Info("Harvest gestartet.", zap.Int("candidates", len(ids)), zap.Int("skipped", report.Skipped),
		zap.Int("limit", p.storyLimit))

	selected := 0
	for _, id := range candidates {
		if selected >= p.storyLimit {
			break
		}
		if ctx.Err() != nil {
			log.Warn("Harvest abgebrochen.", zap.Error(ctx.Err()))
			break
		}

		item, err := p.Feed.FetchItem(ctx, id)
		if err != nil {
			log.Warn("Story konnte nicht geladen werden.", zap.Int64("item", id), zap.Error(err))
			continue
		}
		if item.Gone() || item.Type != "story" || item.URL == "" {
			log.Debug("Kein Story-Link, übersprungen.", zap.Int64("item", id), zap.String("type", item.Type))
			continue
		}
		selected++

		n, err := p.harvestStory(ctx, item)
		if err != nil {
			report.Failed++
			log.Error("Story fehlgeschlagen.", zap.Int64("item", id), zap.Error(err))
			continue
		}
		report.Submitted++
		report.Comments += n
	}

	if report.Submitted > 0 {
		if _, err := p.Orchestrator.ScheduleManifestRefresh(ctx); err != nil {
			log.Warn("Manifest-Refresh konnte nicht geplant werden.", zap.Error(err))
		}
	}
	log.Info("Harvest abgeschlossen.", zap.Int("submitted", report.Submitted), zap.Int("failed", report.Failed),
		zap.Int("comments", report.Comments))
	return report, nil
}

func (p *Pipeline) harvestStory(ctx context.Context, item *models.RawItem) (int, error) {
	story := models.ScrapedStory{
		ID:        strconv.FormatInt(item.ID, 10),
		Title:     CleanText(item.Title),
		URL:       item.URL,
		Points:    item.Score,
		Author:    item.By,
		Timestamp: time.Unix(item.Time, 0).UTC(),
	}
	log := p.Logger.With(zap.String("story_id", story.ID))

	story.RawContent = p.Extractor.Extract(ctx, story.URL)
	story.Comments = p.Harvester.HarvestTree(ctx, item.Kids)
	log.Info("Story gesammelt.", zap.Int("comments", len(story.Comments)), zap.Int("content_chars", len(story.RawContent)))

	if err := p.Repo.SaveRawStory(ctx, story); err != nil {
		return 0, err
	}
	if p.Archiver != nil {
		if key, err := p.Archiver.ArchiveStory(ctx, story, p.now()); err != nil {
			log.Warn("Archivierung fehlgeschlagen.", zap.Error(err))
		} else {
			log.Debug("Roh-Snapshot archiviert.", zap.String("key", key))
		}
	}

	if _, err := p.Orchestrator.SubmitAnalysisFlow(ctx, story, Chunk(story.Comments, p.chunkSize)); err != nil {
		return 0, err
	}
	storiesHarvested.Inc()
	commentsHarvested.Add(float64(len(story.Comments)))
	return len(story.Comments), nil
}

// Reprocess reiht alle gespeicherten Stories erneut ein, ohne Feed oder Artikel neu zu laden.
// Jeder Lauf erzeugt neue Analysezeilen.
func (p *Pipeline) Reprocess(ctx context.Context) (int, error) {
	log := p.Logger.With(zap.String("run", "reprocess"))
	stories, err := p.Repo.AllStories(ctx)
	if err != nil {
		return 0, fmt.Errorf("fehler beim Laden der Stories: %w", err)
	}

	submitted := 0
	for _, row := range stories {
		if ctx.Err() != nil {
			break
		}
		if !row.HasSource() {
			log.Warn("Keine Rohdaten gespeichert, übersprungen.", zap.String("story_id", row.ID))
			continue
		}
		story, err := storyFromRow(row)
		if err != nil {
			log.Warn("Rohdaten unlesbar, übersprungen.", zap.String("story_id", row.ID), zap.Error(err))
			continue
		}
		if _, err := p.Orchestrator.ResubmitAnalysisFlow(ctx, story, Chunk(story.Comments, p.chunkSize)); err != nil {
			log.Error("Neuverarbeitung fehlgeschlagen.", zap.String("story_id", row.ID), zap.Error(err))
			continue
		}
		submitted++
	}

	if submitted > 0 {
		if _, err := p.Orchestrator.ScheduleManifestRefresh(ctx); err != nil {
			log.Warn("Manifest-Refresh konnte nicht geplant werden.", zap.Error(err))
		}
	}
	log.Info("Neuverarbeitung eingereiht.", zap.Int("stories", submitted), zap.Int("total", len(stories)))
	return submitted, nil
}

func storyFromRow(row models.Story) (models.ScrapedStory, error) {
	var comments []models.CommentDTO
	if err := json.Unmarshal(row.RawCommentsJSON, &comments); err != nil {
		return models.ScrapedStory{}, err
	}
	if comments == nil {
		comments = []models.CommentDTO{}
	}
	return models.ScrapedStory{
		ID:         row.ID,
		Title:      row.Title,
		URL:        row.URL,
		Points:     row.Points,
		Author:     row.Author,
		Timestamp:  row.CreatedAt,
		RawContent: row.RawContent,
		Comments:   comments,
	}, nil
}
