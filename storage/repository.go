package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hn-digest/config"
	"hn-digest/models"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound wird geliefert, wenn eine Story oder Analyse nicht existiert.
var ErrNotFound = errors.New("storage: not found")

// OpenPostgres öffnet die PostgreSQL-Verbindung.
func OpenPostgres(cfg *config.Config) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// Repository kapselt alle Zugriffe auf die relationale Datenbank.
type Repository struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewRepository erstellt ein Repository auf einer offenen Verbindung.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{DB: db, Logger: logger}
}

// Migrate legt Tabellen an. Auf PostgreSQL wird vorher die vector-Extension aktiviert.
func (r *Repository) Migrate(ctx context.Context) error {
	db := r.DB.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("fehler beim aktivieren der vector extension: %w", err)
		}
	}
	return db.AutoMigrate(&models.Story{}, &models.Analysis{}, &models.Sentiment{}, &models.ManifestDate{})
}

// Ping prüft die Datenbankverbindung.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AnalyzedStoryIDs liefert die IDs aller Stories mit mindestens einer Analyse.
func (r *Repository) AnalyzedStoryIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := r.DB.WithContext(ctx).Model(&models.Analysis{}).Distinct().Pluck("story_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("fehler beim laden der analysierten stories: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// SaveRawStory speichert Metadaten und Rohdaten einer geernteten Story.
// Titel, URL und Autor bleiben beim Konflikt unverändert.
func (r *Repository) SaveRawStory(ctx context.Context, story models.ScrapedStory) error {
	comments, err := json.Marshal(story.Comments)
	if err != nil {
		return fmt.Errorf("kommentare nicht serialisierbar: %w", err)
	}
	row := storyRow(story)
	row.RawContent = story.RawContent
	row.RawCommentsJSON = datatypes.JSON(comments)

	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"points", "raw_content", "raw_comments_json", "updated_at"}),
	}).Create(&row).Error
}

// AllStories liefert alle gespeicherten Stories, älteste zuerst.
func (r *Repository) AllStories(ctx context.Context) ([]models.Story, error) {
	var stories []models.Story
	err := r.DB.WithContext(ctx).Order("created_at ASC").Find(&stories).Error
	return stories, err
}

// PersistAnalysis speichert eine Analyse atomar: Story-Upsert (nur Punkte), neue Analyse-Zeile
// und genau einen Artikel- sowie 3-4 Community-Cluster. Jeder Fehler rollt alles zurück.
func (r *Repository) PersistAnalysis(ctx context.Context, story models.ScrapedStory, a *models.AnalysisDTO, embedding []float32, at time.Time) (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("analyse nicht serialisierbar: %w", err)
	}

	var vec *pgvector.Vector
	if len(embedding) > 0 {
		v := pgvector.NewVector(embedding)
		vec = &v
	}

	analysis := models.Analysis{
		ID:           uuid.NewString(),
		CreatedAt:    at,
		StoryID:      story.ID,
		Topic:        a.Topic,
		Summary:      a.SummaryText(),
		RawJSON:      datatypes.JSON(raw),
		Embedding:    vec,
		AnalysisDate: at.UTC().Format(models.AnalysisDateLayout),
	}

	sentiments := make([]models.Sentiment, 0, len(a.CommunitySentiments)+1)
	sentiments = append(sentiments, sentimentRow(analysis.ID, models.SourceArticle, *a.ArticleSentiment))
	for _, c := range a.CommunitySentiments {
		sentiments = append(sentiments, sentimentRow(analysis.ID, models.SourceCommunity, c))
	}

	row := storyRow(story)
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"points"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("story upsert: %w", err)
		}
		if err := tx.Omit(clause.Associations).Create(&analysis).Error; err != nil {
			return fmt.Errorf("analyse insert: %w", err)
		}
		if err := tx.Create(&sentiments).Error; err != nil {
			return fmt.Errorf("sentiment insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return analysis.ID, nil
}

// LatestAnalysis liefert die jüngste Analyse einer Story samt Clustern.
func (r *Repository) LatestAnalysis(ctx context.Context, storyID string) (*models.Analysis, error) {
	var a models.Analysis
	err := r.DB.WithContext(ctx).Preload("Sentiments").
		Where("story_id = ?", storyID).Order("created_at DESC").First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CountAnalyses zählt die Analyse-Zeilen einer Story.
func (r *Repository) CountAnalyses(ctx context.Context, storyID string) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Analysis{}).Where("story_id = ?", storyID).Count(&n).Error
	return n, err
}

// RefreshManifest berechnet das Manifest der Analyse-Tage in einer Transaktion neu.
func (r *Repository) RefreshManifest(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM manifest_dates").Error; err != nil {
			return err
		}
		res := tx.Exec(`INSERT INTO manifest_dates (date, analysis_count, refreshed_at)
			SELECT analysis_date, COUNT(*), ? FROM analyses GROUP BY analysis_date`, now)
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("fehler beim aktualisieren des manifests: %w", err)
	}
	return n, nil
}

// ManifestDates liefert alle Tage mit Analysen, neueste zuerst.
func (r *Repository) ManifestDates(ctx context.Context) ([]models.ManifestDate, error) {
	var dates []models.ManifestDate
	err := r.DB.WithContext(ctx).Order("date DESC").Find(&dates).Error
	return dates, err
}

func storyRow(s models.ScrapedStory) models.Story {
	return models.Story{
		ID:        s.ID,
		CreatedAt: s.Timestamp,
		Title:     s.Title,
		URL:       s.URL,
		Points:    s.Points,
		Author:    s.Author,
	}
}

func sentimentRow(analysisID string, source models.SentimentSource, c models.SentimentCluster) models.Sentiment {
	return models.Sentiment{
		ID:            uuid.NewString(),
		AnalysisID:    analysisID,
		Source:        source,
		Label:         c.Label,
		SentimentType: c.Type,
		Description:   c.Description,
		Agreement:     c.EstimatedAgreement,
	}
}
