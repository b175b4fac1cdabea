package models

import (
	"time"

	"gorm.io/datatypes"
)

// Story repräsentiert eine Hacker-News-Story samt den Rohdaten für spätere Neuverarbeitung.
type Story struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title  string `json:"title" gorm:"not null"`
	URL    string `json:"url" gorm:"type:text"`
	Points int    `json:"points"`
	Author string `json:"author,omitempty" gorm:"index"`

	// Rohdaten aus dem Harvest-Lauf
	RawContent      string         `json:"raw_content,omitempty" gorm:"type:text"`
	RawCommentsJSON datatypes.JSON `json:"raw_comments_json,omitempty"`

	Analyses []Analysis `json:"analyses,omitempty" gorm:"foreignKey:StoryID"`
}

// TableName gibt explizit den Tabellennamen an.
func (Story) TableName() string {
	return "stories"
}

// HasSource meldet, ob Artikeltext und Kommentare für eine Neuverarbeitung vorliegen.
func (s Story) HasSource() bool {
	return s.RawContent != "" && len(s.RawCommentsJSON) > 0
}
