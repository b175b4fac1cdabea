package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Topic ist die geschlossene Menge der Themenkategorien.
type Topic string

const (
	TopicAIFundamentals Topic = "AI Fundamentals"
	TopicAIApplications Topic = "AI Applications"
	TopicPolitics       Topic = "Politics"
	TopicOthers         Topic = "Others"
)

// Topics listet alle erlaubten Kategorien in Prompt-Reihenfolge.
var Topics = []Topic{TopicAIFundamentals, TopicAIApplications, TopicPolitics, TopicOthers}

// SentimentType ist die geschlossene Menge der Cluster-Typen.
type SentimentType string

const (
	SentimentPositive SentimentType = "positive"
	SentimentNegative SentimentType = "negative"
	SentimentMixed    SentimentType = "mixed"
	SentimentNeutral  SentimentType = "neutral"
	SentimentDebate   SentimentType = "debate"
)

// SentimentCluster ist ein Meinungs-Cluster, wie ihn das Sprachmodell liefert.
type SentimentCluster struct {
	Label              string        `json:"label" validate:"required"`
	Type               SentimentType `json:"type" validate:"required,oneof=positive negative mixed neutral debate"`
	Description        string        `json:"description" validate:"required"`
	EstimatedAgreement string        `json:"estimated_agreement" validate:"required"`
}

// AnalysisDTO ist die strukturierte Analyse einer Story.
type AnalysisDTO struct {
	Topic               Topic              `json:"topic" validate:"required,oneof='AI Fundamentals' 'AI Applications' Politics Others"`
	SummaryParagraphs   []string           `json:"summary_paragraphs" validate:"min=2,dive,required"`
	Highlight           string             `json:"highlight" validate:"required"`
	KeyPoints           []string           `json:"key_points" validate:"min=1,dive,required"`
	ArticleSentiment    *SentimentCluster  `json:"article_sentiment" validate:"required"`
	CommunitySentiments []SentimentCluster `json:"community_sentiments" validate:"min=3,max=4,dive"`
}

var validate = validator.New()

// Validate prüft die Analyse gegen das Schema. Zu viele oder zu wenige Cluster werden abgelehnt, nie gekürzt.
func (a *AnalysisDTO) Validate() error {
	if err := validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s: failed '%s' (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("analysis schema: %s", strings.Join(parts, "; "))
		}
		return fmt.Errorf("analysis schema: %w", err)
	}
	return nil
}

// SummaryText fügt die Absätze zu dem Text zusammen, der gespeichert und eingebettet wird.
func (a *AnalysisDTO) SummaryText() string {
	return strings.Join(a.SummaryParagraphs, "\n\n")
}
