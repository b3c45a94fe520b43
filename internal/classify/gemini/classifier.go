// Package gemini implements the classifier contract on top of the Google
// GenAI API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/classify"
	"github.com/rizwan0110/JobSearch-Agent/internal/job"
	"github.com/rizwan0110/JobSearch-Agent/internal/logger"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	defaultCallTimeout  = 60 * time.Second
)

// Classifier asks Gemini to score a posting against a profile.
type Classifier struct {
	generator   contentGenerator
	logger      *zap.Logger
	callTimeout time.Duration
	maxLogLen   int
}

// NewClassifier builds a Gemini-backed classifier. A non-positive timeout or
// log length falls back to the defaults.
func NewClassifier(generator contentGenerator, log *zap.Logger, callTimeout time.Duration, maxLogLength int) *Classifier {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	model := ""
	if generator != nil {
		model = generator.Model()
	}

	return &Classifier{
		generator:   generator,
		logger:      logger.WithCommonFields(log, "gemini", model),
		callTimeout: callTimeout,
		maxLogLen:   maxLogLength,
	}
}

// Evaluate implements classify.Classifier.
func (c *Classifier) Evaluate(ctx context.Context, posting *job.Posting, profile *job.Profile) (*classify.Assessment, error) {
	if posting == nil {
		return nil, fmt.Errorf("posting is required")
	}
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}

	profileJSON, err := json.MarshalIndent(map[string]any{
		"skills":      profile.Skills,
		"preferences": profile.Preferences,
		"constraints": profile.Constraints,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal profile payload: %w", err)
	}

	postingJSON, err := json.MarshalIndent(map[string]any{
		"title":       posting.Title,
		"employer":    posting.Employer,
		"location":    posting.Location,
		"description": posting.Description,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal posting payload: %w", err)
	}

	prompt := buildPrompt(string(profileJSON), string(postingJSON))

	c.logger.Debug("gemini generate content request",
		zap.String("job_id", posting.ID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, c.maxLogLen)),
	)

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	raw, err := c.generator.GenerateContent(callCtx, prompt)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("gemini generate content response",
		zap.String("job_id", posting.ID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.TruncateForLog(raw, c.maxLogLen)),
	)

	assessment, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	assessment.Raw = raw
	return assessment, nil
}

func buildPrompt(profileJSON, postingJSON string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Profile:\n{{PROFILE_JSON}}\n\nPosting:\n{{POSTING_JSON}}\n\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{PROFILE_JSON}}", profileJSON)
	prompt = strings.ReplaceAll(prompt, "{{POSTING_JSON}}", postingJSON)
	return prompt
}

func parseResponse(raw string) (*classify.Assessment, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	score := coerceFloat(data["score"])
	if math.IsNaN(score) {
		return nil, fmt.Errorf("gemini response is missing a numeric score")
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return &classify.Assessment{
		Score:     score,
		Rationale: coerceString(data["rationale"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
