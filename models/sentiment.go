package models

// SentimentSource unterscheidet Artikel- und Community-Cluster.
type SentimentSource string

const (
	SourceArticle   SentimentSource = "article"
	SourceCommunity SentimentSource = "community"
)

// Sentiment ist ein Meinungs-Cluster einer Analyse.
type Sentiment struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	AnalysisID string `json:"analysis_id" gorm:"index;not null"`

	Source        SentimentSource `json:"source" gorm:"index;not null"`
	Label         string          `json:"label"`
	SentimentType SentimentType   `json:"sentiment_type" gorm:"column:sentiment_type"`
	Description   string          `json:"description" gorm:"type:text"`
	Agreement     string          `json:"agreement"`
}

// TableName gibt explizit den Tabellennamen an.
func (Sentiment) TableName() string {
	return "sentiments"
}
