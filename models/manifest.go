package models

import "time"

// ManifestDate ist eine Zeile des materialisierten Manifests: ein Tag mit mindestens einer Analyse.
type ManifestDate struct {
	Date          string    `json:"date" gorm:"primaryKey"`
	AnalysisCount int64     `json:"analysis_count"`
	RefreshedAt   time.Time `json:"refreshed_at"`
}

func (ManifestDate) TableName() string { return "manifest_dates" }
