package engagement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKeywordTable(t *testing.T) {
	c := NewKeywordClassifier()

	tests := []struct {
		text string
		want TemplateType
	}{
		{"Just a quick reminder about your appointment", TemplateFollowUp},
		{"Time to follow up on our conversation", TemplateFollowUp},
		{"Can I get a discount offer?", TemplateOffer},
		{"We have a special deal for you", TemplateOffer},
		{"Mind filling out a quick survey?", TemplateSurvey},
		{"We'd love your feedback", TemplateSurvey},
		{"Big news about our product line", TemplateNews},
		{"Here's an important announcement", TemplateNews},
		{"just checking in", TemplateEngagement},
		{"hello", TemplateEngagement},
		{"", TemplateEngagement},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	c := NewKeywordClassifier()

	// Earlier rules win when a message matches several keyword sets.
	assert.Equal(t, TemplateFollowUp, c.Classify("a reminder about your discount"))
	assert.Equal(t, TemplateOffer, c.Classify("special offer, we'd love your feedback"))
	assert.Equal(t, TemplateSurvey, c.Classify("survey about recent news"))
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	c := NewKeywordClassifier()
	assert.Equal(t, TemplateOffer, c.Classify("DISCOUNT available now"))
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := NewKeywordClassifier()
	first := c.Classify("any old message with a deal inside")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, c.Classify("any old message with a deal inside"))
	}
}
