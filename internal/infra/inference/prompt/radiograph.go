package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Pathologies is the label set of the DenseNet chest X-ray engine. The
// OpenAI adapter is asked to answer with one of these so that reports from
// both engines read the same in the history.
var Pathologies = []string{
	"Atelectasis", "Consolidation", "Infiltration", "Pneumothorax",
	"Edema", "Emphysema", "Fibrosis", "Effusion", "Pneumonia",
	"Pleural_Thickening", "Cardiomegaly", "Nodule", "Mass", "Hernia",
	"Lung Lesion", "Fracture", "Lung Opacity", "Enlarged Cardiomediastinum",
}

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are a radiology decision-support assistant reviewing a single chest X-ray. You must produce one valid JSON object only (no markdown, no commentary). Do not include code fences.

Requirements:
- "diagnosis" is exactly one label from this list, the most likely finding: ` + strings.Join(Pathologies, ", ") + `.
- "confidence" is a number between 0 and 1.
- Never refuse; a clinician reviews every answer.

Schema:
{"diagnosis": "<label>", "confidence": 0.0}`
}

// GetUserPrompt builds the text part of the user message.
func GetUserPrompt(filename string) string {
	return fmt.Sprintf("Classify the attached radiograph (%s) and respond with the JSON per schema.", filename)
}

// Diagnosis is the shape the model is asked to return.
type Diagnosis struct {
	Diagnosis  string  `json:"diagnosis"`
	Confidence float64 `json:"confidence"`
}

var fenceRx = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// ParseDiagnosis decodes a model answer, tolerating a markdown code fence.
func ParseDiagnosis(content string) (Diagnosis, error) {
	content = strings.TrimSpace(content)
	if m := fenceRx.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	var d Diagnosis
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return Diagnosis{}, fmt.Errorf("model answer is not JSON: %w", err)
	}
	d.Diagnosis = strings.TrimSpace(d.Diagnosis)
	return d, nil
}
