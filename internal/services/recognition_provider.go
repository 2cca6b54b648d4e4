package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/utils"
)

// RawCandidate is one identifier-like token the extraction model reported,
// before any validation.
type RawCandidate struct {
	Token    string `json:"token"`
	Page     int    `json:"page"`
	DateText string `json:"visit_date"`
	TimeText string `json:"visit_time"`
}

// RecognitionProviderService is the candidate recognition adapter: per-page
// OCR text goes in, raw candidates come out. Like the OCR adapter it never
// retries; a failed call is a failed call and the pipeline's fault policy
// owns what happens next.
type RecognitionProviderService interface {
	RecognizeCandidates(ctx context.Context, pages []PageText) ([]RawCandidate, error)
}

type recognitionProviderService struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewRecognitionProviderService(log *logger.Logger) (RecognitionProviderService, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com", log)
	model := utils.GetEnv("OPENAI_MODEL", "gpt-4o-mini", log)
	timeoutSec := utils.GetEnvAsInt("RECOGNITION_TIMEOUT_SECONDS", 90, log)

	return &recognitionProviderService{
		log:        log.With("service", "RecognitionProviderService"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

const recognitionSystemPrompt = `Tu analyses le texte OCR de documents médicaux québécois. ` +
	`Repère chaque numéro d'assurance maladie (NAM: 4 lettres suivies de 8 chiffres, parfois mal segmenté par l'OCR) ` +
	`et, lorsqu'ils sont présents à proximité, la date de visite (format ISO YYYY-MM-DD) et l'heure de visite (format 24h HH:MM). ` +
	`Rapporte chaque occurrence avec le numéro de page d'où elle provient. ` +
	`N'invente jamais de valeur: omets la date ou l'heure quand elles sont absentes.`

var recognitionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"candidates": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"token":      map[string]any{"type": "string"},
					"page":       map[string]any{"type": "integer"},
					"visit_date": map[string]any{"type": "string"},
					"visit_time": map[string]any{"type": "string"},
				},
				"required":             []string{"token", "page", "visit_date", "visit_time"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"candidates"},
	"additionalProperties": false,
}

type responsesRequest struct {
	Model string `json:"model"`
	Input []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"input"`
	Text struct {
		Format map[string]any `json:"format"`
	} `json:"text"`
	Temperature float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func (s *recognitionProviderService) RecognizeCandidates(ctx context.Context, pages []PageText) ([]RawCandidate, error) {
	if len(pages) == 0 {
		return []RawCandidate{}, nil
	}

	var sb strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&sb, "=== PAGE %d ===\n%s\n\n", p.PageNumber, p.Text)
	}

	req := responsesRequest{
		Model: s.model,
		Input: []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{
			{Role: "system", Content: recognitionSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.1,
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   "nam_candidates",
		"schema": recognitionSchema,
		"strict": true,
	}

	var resp responsesResponse
	if err := s.doOnce(ctx, "POST", "/v1/responses", req, &resp); err != nil {
		return nil, err
	}
	if resp.Refusal != "" {
		return nil, fmt.Errorf("recognition model refusal: %s", resp.Refusal)
	}

	raw := ""
	for _, out := range resp.Output {
		for _, content := range out.Content {
			if content.Text != "" {
				raw = content.Text
			}
		}
	}
	if raw == "" {
		return nil, fmt.Errorf("recognition model returned no output text")
	}

	var parsed struct {
		Candidates []RawCandidate `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("recognition decode error: %w; raw=%s", err, raw)
	}

	out := make([]RawCandidate, 0, len(parsed.Candidates))
	for _, c := range parsed.Candidates {
		if strings.TrimSpace(c.Token) == "" {
			continue
		}
		if c.Page < 1 {
			c.Page = 1
		}
		out = append(out, c)
	}
	s.log.Debug("Recognition complete", "pages", len(pages), "candidates", len(out))
	return out, nil
}

func (s *recognitionProviderService) doOnce(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("recognition http %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return fmt.Errorf("recognition decode error: %w; raw=%s", uErr, string(raw))
	}
	return nil
}
