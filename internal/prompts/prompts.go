// Package prompts provides the system prompts for extraction, per-document
// insights and the patient summary. Defaults are embedded; each may be
// overridden with a file on disk.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/medsum/platform/internal/shared/config"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	insightTemplate        = "templates/insight.md"
	patientSummaryTemplate = "templates/patient_summary.md"
	extractionTemplate     = "templates/extract_report.md"
)

// Set holds the resolved prompts.
type Set struct {
	Insight        string
	PatientSummary string
	Extraction     string
}

// Load resolves every prompt, preferring the override paths in cfg.
func Load(cfg config.PromptsConfig) (*Set, error) {
	insight, err := loadPrompt(insightTemplate, cfg.InsightPath)
	if err != nil {
		return nil, err
	}
	summary, err := loadPrompt(patientSummaryTemplate, cfg.PatientSummaryPath)
	if err != nil {
		return nil, err
	}
	extraction, err := loadPrompt(extractionTemplate, cfg.ExtractionPath)
	if err != nil {
		return nil, err
	}
	return &Set{Insight: insight, PatientSummary: summary, Extraction: extraction}, nil
}

func loadPrompt(templatePath, override string) (string, error) {
	var (
		b   []byte
		err error
	)
	if override != "" {
		b, err = os.ReadFile(override)
	} else {
		b, err = templatesFS.ReadFile(templatePath)
	}
	if err != nil {
		return "", fmt.Errorf("load prompt %s: %w", templatePath, err)
	}

	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", fmt.Errorf("prompt %s is empty", templatePath)
	}
	return prompt, nil
}
