package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultGenerationEndpoint = "https://fal.run/fal-ai/flux-kontext/dev"

// GenerationRequest is the pass-through payload for the image generation
// API.
type GenerationRequest struct {
	Prompt              string  `json:"prompt"`
	ImageURL            string  `json:"image_url"`
	NumInferenceSteps   int     `json:"num_inference_steps"`
	GuidanceScale       float64 `json:"guidance_scale"`
	NumImages           int     `json:"num_images"`
	Seed                *int64  `json:"seed,omitempty"`
	EnableSafetyChecker bool    `json:"enable_safety_checker"`
	OutputFormat        string  `json:"output_format"`
	ResolutionMode      string  `json:"resolution_mode"`
	SyncMode            bool    `json:"sync_mode"`
}

// DefaultGenerationRequest returns a request pre-filled with the upstream
// defaults; decoding a caller body over it keeps unset fields at these
// values.
func DefaultGenerationRequest() GenerationRequest {
	return GenerationRequest{
		NumInferenceSteps:   28,
		GuidanceScale:       2.5,
		NumImages:           1,
		EnableSafetyChecker: true,
		OutputFormat:        "jpeg",
		ResolutionMode:      "match_input",
	}
}

// UpstreamError is a non-2xx response from the generation API; its status
// propagates to the caller.
type UpstreamError struct {
	StatusCode int
	Status     string
	Detail     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("generation API error: %d %s", e.StatusCode, e.Status)
}

type GenerationService interface {
	Generate(ctx context.Context, req *GenerationRequest) (json.RawMessage, error)
}

type falGenerationService struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewFALGenerationService builds the generation client. The forward proxy,
// when configured, is an explicit transport on this client only; nothing
// process-wide is touched.
func NewFALGenerationService(apiKey string, proxyURL *url.URL) GenerationService {
	transport := &http.Transport{}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &falGenerationService{
		endpoint: defaultGenerationEndpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Transport: transport,
			Timeout:   120 * time.Second,
		},
	}
}

func (s *falGenerationService) Generate(ctx context.Context, req *GenerationRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Key "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Detail:     string(respBody),
		}
	}

	return json.RawMessage(respBody), nil
}
