package engagement

import (
	"fmt"
	"time"
)

// ComponentKind distinguishes the sections of a provider template.
type ComponentKind string

const (
	ComponentHeader ComponentKind = "header"
	ComponentBody   ComponentKind = "body"
	ComponentButton ComponentKind = "button"
)

// ComponentSpec declares one component of a template and the parameter slots
// it expects, in order.
type ComponentSpec struct {
	Kind           ComponentKind `json:"kind"`
	ParameterSlots []string      `json:"parameter_slots"`
}

// TemplateDefinition describes a pre-approved provider template.
type TemplateDefinition struct {
	Name         string          `json:"name"`
	LanguageCode string          `json:"language_code"`
	Components   []ComponentSpec `json:"components"`
}

// FilledComponent is a ComponentSpec with its slots resolved to values.
type FilledComponent struct {
	Kind       ComponentKind `json:"kind"`
	Parameters []string      `json:"parameters"`
}

// TemplatePayload is the wire shape both template-send collaborators accept.
// Fallback is set when the payload goes through the generic endpoint instead
// of the dedicated template endpoint.
type TemplatePayload struct {
	TemplateName string            `json:"template_name"`
	TemplateType TemplateType      `json:"template_type"`
	LanguageCode string            `json:"language_code"`
	Components   []FilledComponent `json:"components"`
	Fallback     bool              `json:"is_template_fallback,omitempty"`
}

// DefaultCatalog returns the statically configured template definitions, one
// per template type, in the given language.
func DefaultCatalog(languageCode string) map[TemplateType]TemplateDefinition {
	if languageCode == "" {
		languageCode = "en"
	}
	return map[TemplateType]TemplateDefinition{
		TemplateFollowUp: {
			Name:         "crm_follow_up",
			LanguageCode: languageCode,
			Components: []ComponentSpec{
				{Kind: ComponentBody, ParameterSlots: []string{"customer_name", "days_since_contact"}},
			},
		},
		TemplateEngagement: {
			Name:         "crm_engagement",
			LanguageCode: languageCode,
			Components: []ComponentSpec{
				{Kind: ComponentBody, ParameterSlots: []string{"customer_name"}},
			},
		},
		TemplateOffer: {
			Name:         "crm_offer",
			LanguageCode: languageCode,
			Components: []ComponentSpec{
				{Kind: ComponentBody, ParameterSlots: []string{"customer_name", "offer_text"}},
				{Kind: ComponentButton, ParameterSlots: []string{"offer_text"}},
			},
		},
		TemplateNews: {
			Name:         "crm_news",
			LanguageCode: languageCode,
			Components: []ComponentSpec{
				{Kind: ComponentHeader, ParameterSlots: []string{"headline"}},
				{Kind: ComponentBody, ParameterSlots: []string{"customer_name", "headline"}},
			},
		},
		TemplateSurvey: {
			Name:         "crm_survey",
			LanguageCode: languageCode,
			Components: []ComponentSpec{
				{Kind: ComponentBody, ParameterSlots: []string{"customer_name", "survey_topic"}},
			},
		},
		TemplateCustomerService: {
			Name:         "crm_customer_service",
			LanguageCode: languageCode,
			Components: []ComponentSpec{
				{Kind: ComponentBody, ParameterSlots: []string{"customer_name", "message_text"}},
			},
		},
	}
}

// PrepareParameters fills the slot values a template of the given type needs.
// Every template gets the customer name; type-specific slots derive from the
// message text and the customer's contact history.
func PrepareParameters(templateType TemplateType, messageText string, customer UserDetails, now time.Time) map[string]string {
	name := customer.Name
	if name == "" {
		name = "there"
	}
	params := map[string]string{
		"customer_name": name,
	}
	switch templateType {
	case TemplateFollowUp:
		params["days_since_contact"] = daysSince(customer.LastContactAt, now)
	case TemplateOffer:
		params["offer_text"] = messageText
	case TemplateSurvey:
		params["survey_topic"] = messageText
	case TemplateNews:
		params["headline"] = messageText
	case TemplateCustomerService:
		params["message_text"] = messageText
	}
	return params
}

// BuildComponents positionally substitutes parameter values into each
// component's declared slots. A declared slot with no prepared value is an
// error rather than an empty string in customer-facing copy.
func BuildComponents(def TemplateDefinition, params map[string]string) ([]FilledComponent, error) {
	filled := make([]FilledComponent, 0, len(def.Components))
	for _, spec := range def.Components {
		values := make([]string, 0, len(spec.ParameterSlots))
		for _, slot := range spec.ParameterSlots {
			v, ok := params[slot]
			if !ok {
				return nil, fmt.Errorf("engagement: template %q %s component: missing parameter %q", def.Name, spec.Kind, slot)
			}
			values = append(values, v)
		}
		filled = append(filled, FilledComponent{Kind: spec.Kind, Parameters: values})
	}
	return filled, nil
}

func daysSince(last, now time.Time) string {
	if last.IsZero() || !now.After(last) {
		return "a few"
	}
	days := int(now.Sub(last).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return fmt.Sprintf("%d", days)
}
