package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"hn-digest/models"
	"hn-digest/storage"
	"hn-digest/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func analysisFixture(communities int) *models.AnalysisDTO {
	article := models.SentimentCluster{Label: "Optimistic author", Type: models.SentimentPositive, Description: "d", EstimatedAgreement: "n/a"}
	a := &models.AnalysisDTO{
		Topic:             models.TopicAIFundamentals,
		SummaryParagraphs: []string{"p1", "p2"},
		Highlight:         "h",
		KeyPoints:         []string{"k"},
		ArticleSentiment:  &article,
	}
	for i := 0; i < communities; i++ {
		a.CommunitySentiments = append(a.CommunitySentiments,
			models.SentimentCluster{Label: "c", Type: models.SentimentDebate, Description: "d", EstimatedAgreement: "~5 users"})
	}
	return a
}

func storyFixture(id string, points int) models.ScrapedStory {
	return models.ScrapedStory{
		ID: id, Title: "Title " + id, URL: "https://example.com/" + id, Points: points, Author: "pg",
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestPersistAnalysisWritesAllRows(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository(t)
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	id, err := repo.PersistAnalysis(ctx, storyFixture("111", 10), analysisFixture(3), []float32{0.1, 0.2, 0.3}, at)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	latest, err := repo.LatestAnalysis(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)
	assert.Equal(t, "p1\n\np2", latest.Summary)
	assert.Equal(t, "2026-03-02", latest.AnalysisDate)
	require.NotNil(t, latest.Embedding)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, latest.Embedding.Slice())
	require.Len(t, latest.Sentiments, 4)

	var article, community int
	for _, s := range latest.Sentiments {
		switch s.Source {
		case models.SourceArticle:
			article++
		case models.SourceCommunity:
			community++
		}
	}
	assert.Equal(t, 1, article)
	assert.Equal(t, 3, community)
}

func TestPersistAnalysisNilEmbedding(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository(t)

	_, err := repo.PersistAnalysis(ctx, storyFixture("1", 1), analysisFixture(4), nil, time.Now())
	require.NoError(t, err)
	latest, err := repo.LatestAnalysis(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, latest.Embedding)
}

func TestPersistAnalysisIsAppendOnlyAndUpdatesPointsOnly(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository(t)
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := repo.PersistAnalysis(ctx, storyFixture("42", 10), analysisFixture(3), nil, first)
	require.NoError(t, err)

	changed := storyFixture("42", 99)
	changed.Title = "Edited title"
	second, err := repo.PersistAnalysis(ctx, changed, analysisFixture(3), nil, first.Add(time.Hour))
	require.NoError(t, err)

	n, err := repo.CountAnalyses(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	latest, err := repo.LatestAnalysis(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID)

	var row models.Story
	require.NoError(t, repo.DB.First(&row, "id = ?", "42").Error)
	assert.Equal(t, 99, row.Points)
	assert.Equal(t, "Title 42", row.Title)
}

func TestPersistAnalysisRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository(t)
	require.NoError(t, repo.DB.Callback().Create().Before("gorm:create").Register("test:fail_sentiments", func(tx *gorm.DB) {
		if tx.Statement.Table == "sentiments" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	_, err := repo.PersistAnalysis(ctx, storyFixture("7", 1), analysisFixture(3), nil, time.Now())
	require.Error(t, err)

	var stories, analyses, sentiments int64
	repo.DB.Model(&models.Story{}).Count(&stories)
	repo.DB.Model(&models.Analysis{}).Count(&analyses)
	repo.DB.Model(&models.Sentiment{}).Count(&sentiments)
	assert.Zero(t, stories)
	assert.Zero(t, analyses)
	assert.Zero(t, sentiments)
}

func TestAnalyzedStoryIDs(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository(t)
	require.NoError(t, repo.SaveRawStory(ctx, storyFixture("raw-only", 1)))
	_, err := repo.PersistAnalysis(ctx, storyFixture("done", 1), analysisFixture(3), nil, time.Now())
	require.NoError(t, err)
	_, err = repo.PersistAnalysis(ctx, storyFixture("done", 2), analysisFixture(3), nil, time.Now())
	require.NoError(t, err)

	ids, err := repo.AnalyzedStoryIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"done": {}}, ids)
}

func TestSaveRawStoryKeepsSourceForReprocess(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository(t)
	s := storyFixture("9", 5)
	s.RawContent = "article"
	s.Comments = []models.CommentDTO{{ID: "10", Author: "a", Text: "hello"}}
	require.NoError(t, repo.SaveRawStory(ctx, s))

	s.Points = 8
	s.Title = "ignored"
	require.NoError(t, repo.SaveRawStory(ctx, s))

	stories, err := repo.AllStories(ctx)
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.True(t, stories[0].HasSource())
	assert.Equal(t, 8, stories[0].Points)
	assert.Equal(t, "Title 9", stories[0].Title)
	assert.JSONEq(t, `[{"id":"10","author":"a","text":"hello","score":0}]`, string(stories[0].RawCommentsJSON))
}

func TestRefreshManifest(t *testing.T) {
	ctx := context.Background()
	repo := storagetest.NewRepository(t)
	d1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{d1, d1.Add(time.Hour), d2} {
		_, err := repo.PersistAnalysis(ctx, storyFixture("s", 1), analysisFixture(3), nil, at)
		require.NoError(t, err)
	}

	n, err := repo.RefreshManifest(ctx, d2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	dates, err := repo.ManifestDates(ctx)
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, "2026-03-02", dates[0].Date)
	assert.Equal(t, int64(1), dates[0].AnalysisCount)
	assert.Equal(t, int64(2), dates[1].AnalysisCount)

	n, err = repo.RefreshManifest(ctx, d2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestLatestAnalysisNotFound(t *testing.T) {
	_, err := storagetest.NewRepository(t).LatestAnalysis(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
