package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// AnalysisDateLayout ist das Format der Spalte analysis_date.
const AnalysisDateLayout = "2006-01-02"

// Analysis ist ein unveränderlicher Analyse-Lauf einer Story. Neue Läufe erzeugen neue Zeilen.
type Analysis struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid"`
	CreatedAt time.Time `json:"created_at"`

	StoryID string `json:"story_id" gorm:"index;not null"`
	Topic   Topic  `json:"topic" gorm:"index;not null"`
	Summary string `json:"summary" gorm:"type:text"`

	// Vollständige strukturierte Antwort für spätere Darstellung
	RawJSON   datatypes.JSON   `json:"raw_json"`
	Embedding *pgvector.Vector `json:"-" gorm:"type:vector(3072)"`

	AnalysisDate string `json:"analysis_date" gorm:"index;not null"`

	Sentiments []Sentiment `json:"sentiments,omitempty" gorm:"foreignKey:AnalysisID"`
}

// TableName gibt explizit den Tabellennamen an.
func (Analysis) TableName() string {
	return "analyses"
}
