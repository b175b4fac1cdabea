package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cluster(label string, t SentimentType) SentimentCluster {
	return SentimentCluster{Label: label, Type: t, Description: "desc " + label, EstimatedAgreement: "~10 users"}
}

func validAnalysis() AnalysisDTO {
	article := cluster("Author is upbeat", SentimentPositive)
	return AnalysisDTO{
		Topic:             TopicAIApplications,
		SummaryParagraphs: []string{"first paragraph", "second paragraph"},
		Highlight:         "a highlight",
		KeyPoints:         []string{"point"},
		ArticleSentiment:  &article,
		CommunitySentiments: []SentimentCluster{
			cluster("Skeptics", SentimentNegative),
			cluster("Builders", SentimentPositive),
			cluster("Policy wonks", SentimentDebate),
		},
	}
}

func TestAnalysisValidateAccepts(t *testing.T) {
	a := validAnalysis()
	require.NoError(t, a.Validate())

	a.CommunitySentiments = append(a.CommunitySentiments, cluster("Lurkers", SentimentNeutral))
	assert.NoError(t, a.Validate())
}

func TestAnalysisValidateRejects(t *testing.T) {
	cases := map[string]func(a *AnalysisDTO){
		"five community clusters": func(a *AnalysisDTO) {
			a.CommunitySentiments = append(a.CommunitySentiments, cluster("d", SentimentMixed), cluster("e", SentimentMixed))
		},
		"two community clusters": func(a *AnalysisDTO) { a.CommunitySentiments = a.CommunitySentiments[:2] },
		"single paragraph":       func(a *AnalysisDTO) { a.SummaryParagraphs = a.SummaryParagraphs[:1] },
		"unknown topic":          func(a *AnalysisDTO) { a.Topic = "Sports" },
		"unknown sentiment type": func(a *AnalysisDTO) { a.CommunitySentiments[0].Type = "angry" },
		"missing article":        func(a *AnalysisDTO) { a.ArticleSentiment = nil },
		"empty key points":       func(a *AnalysisDTO) { a.KeyPoints = nil },
		"blank highlight":        func(a *AnalysisDTO) { a.Highlight = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			a := validAnalysis()
			mutate(&a)
			assert.Error(t, a.Validate())
		})
	}
}

func TestAnalysisValidateDoesNotTruncate(t *testing.T) {
	a := validAnalysis()
	a.CommunitySentiments = append(a.CommunitySentiments, cluster("d", SentimentMixed), cluster("e", SentimentMixed))
	require.Error(t, a.Validate())
	assert.Len(t, a.CommunitySentiments, 5)
}

func TestSummaryText(t *testing.T) {
	a := validAnalysis()
	assert.Equal(t, "first paragraph\n\nsecond paragraph", a.SummaryText())
}
