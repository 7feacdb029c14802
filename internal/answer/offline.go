package answer

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

var categories = map[string][]string{
	"diabetes":    {"diabetes", "insulin", "blood sugar", "glucose", "thirst"},
	"heart":       {"chest pain", "heart", "palpitation", "blood pressure"},
	"respiratory": {"cough", "breath", "asthma", "wheez", "lung"},
	"fever":       {"fever", "chills", "temperature", "flu"},
	"digestive":   {"nausea", "vomit", "stomach", "diarrhea", "abdominal"},
	"neurologic":  {"headache", "migraine", "dizz", "numb", "seizure"},
}

// Urgent warning signs always take precedence over the category match.
var urgentKeywords = []string{"chest pain", "can't breathe", "cannot breathe", "unconscious", "seizure", "severe bleeding"}

// OfflineAnswerer answers from a fixed keyword table. It is used when no
// model credentials are configured.
type OfflineAnswerer struct{}

func NewOfflineAnswerer() *OfflineAnswerer {
	return &OfflineAnswerer{}
}

func (a *OfflineAnswerer) GenerateAnswer(ctx context.Context, topic Topic, input string) (*Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matched := classify(input)
	switch topic {
	case TopicSymptomRisk:
		return &Answer{Text: symptomRisk(input, matched)}, nil
	default:
		return &Answer{Text: information(matched)}, nil
	}
}

// classify returns the sorted categories whose keywords appear in content.
func classify(content string) []string {
	content = strings.ToLower(content)
	result := []string{}
	for category, keywords := range categories {
		for _, keyword := range keywords {
			if strings.Contains(content, keyword) {
				result = append(result, category)
				break
			}
		}
	}
	sort.Strings(result)
	return result
}

func symptomRisk(input string, matched []string) string {
	lower := strings.ToLower(input)
	for _, keyword := range urgentKeywords {
		if strings.Contains(lower, keyword) {
			return "Your description includes a potentially serious warning sign. Please contact emergency services or see a healthcare professional immediately."
		}
	}
	if len(matched) == 0 {
		return "I could not relate your symptoms to a specific area. If they persist or get worse, please consult a healthcare professional. This is not a diagnosis."
	}
	return fmt.Sprintf("Your symptoms may be related to the following areas: %s. This is a preliminary risk assessment, not a diagnosis. Consider consulting a healthcare professional for an evaluation.",
		strings.Join(matched, ", "))
}

func information(matched []string) string {
	if len(matched) == 0 {
		return "I can share general information about common medical topics such as diabetes, heart health, respiratory conditions and fever. Could you tell me more about what you would like to know?"
	}
	return fmt.Sprintf("Your question touches on: %s. I can provide general information on these topics, but not medical advice. For personal guidance, please talk to a healthcare professional.",
		strings.Join(matched, ", "))
}
