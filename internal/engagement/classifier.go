package engagement

import "strings"

// Classifier maps free-form message text to a template category. Implementations
// must be pure: identical text always yields the same type.
type Classifier interface {
	Classify(text string) TemplateType
}

type keywordRule struct {
	templateType TemplateType
	keywords     []string
}

// KeywordClassifier is the default table-driven classifier. Rules are checked
// in order and the first matching rule wins, so a message containing both
// "reminder" and "discount" classifies as a follow-up.
type KeywordClassifier struct {
	rules []keywordRule
}

// NewKeywordClassifier returns the classifier with the stock rule table.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		rules: []keywordRule{
			{TemplateFollowUp, []string{"follow up", "follow-up", "followup", "reminder"}},
			{TemplateOffer, []string{"offer", "discount", "deal", "promotion"}},
			{TemplateSurvey, []string{"survey", "feedback", "question"}},
			{TemplateNews, []string{"news", "update", "announcement"}},
		},
	}
}

var _ Classifier = (*KeywordClassifier)(nil)

// Classify returns the first template type whose keyword list matches text,
// or TemplateEngagement when nothing matches.
func (c *KeywordClassifier) Classify(text string) TemplateType {
	normalized := strings.ToLower(text)
	for _, rule := range c.rules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				return rule.templateType
			}
		}
	}
	return TemplateEngagement
}
