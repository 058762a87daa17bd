package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GenerationResponse is the structured plan the model returns for a
// single question: either a request for clarification, or a SQL
// query plus the metadata needed to validate and explain it.
type GenerationResponse struct {
	NeedsClarification    bool     `json:"needs_clarification"`
	ClarificationQuestion string   `json:"clarification_question"`
	ClarifiedQuestion     string   `json:"clarified_question"`
	Assumptions           []string `json:"assumptions"`
	ConceptsUsed          []string `json:"concepts_used"`
	SQL                   string   `json:"sql"`
	ValidationChecks      []string `json:"validation_checks"`
	AnswerPlan            string   `json:"answer_plan"`
	Confidence            string   `json:"confidence"`
}

// ParseResponse extracts the JSON object from the model's raw text —
// unwrapping a ```json fenced block, a bare ``` fenced block, or a
// plain JSON document, in that order — and decodes it. A response
// that doesn't parse is not an error the caller needs to handle
// specially: it becomes a clarification request, since an
// unparseable plan is functionally the same as the model being
// unsure what was asked.
func ParseResponse(responseText string) GenerationResponse {
	jsonStr := extractJSON(responseText)

	resp := GenerationResponse{Confidence: "medium"}
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return GenerationResponse{
			NeedsClarification:    true,
			ClarificationQuestion: fmt.Sprintf("I had trouble understanding the request. Could you rephrase it? (Error: %v)", err),
			Confidence:            "low",
		}
	}
	return resp
}

func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx != -1 {
		start := idx + len("```json")
		if end := strings.Index(text[start:], "```"); end != -1 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	if idx := strings.Index(text, "```"); idx != -1 {
		start := idx + len("```")
		if end := strings.Index(text[start:], "```"); end != -1 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	return strings.TrimSpace(text)
}
