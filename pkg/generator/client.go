package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/thumbgen/thumbgen-backend/pkg/config"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
)

// Request describes one generation job sent to the external service.
type Request struct {
	Operation   enums.CreditOperationType `json:"operation"`
	Prompt      string                    `json:"prompt,omitempty"`
	SourceImage string                    `json:"source_image,omitempty"`
	AspectRatio string                    `json:"aspect_ratio,omitempty"`
}

// Result is the artifact the external service produced.
type Result struct {
	ArtifactURL string `json:"artifact_url"`
	MimeType    string `json:"mime_type"`
}

// Client is the outbound surface to the generation service. The ledger core
// treats it as opaque: deduct first, call this unlocked, refund on error.
type Client interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient builds a generation client against the configured base URL.
func NewHTTPClient(cfg config.GeneratorConfig) (Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("generator base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &httpClient{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *httpClient) Generate(ctx context.Context, req Request) (*Result, error) {
	if !req.Operation.IsValid() {
		return nil, fmt.Errorf("invalid operation %q", req.Operation)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call generation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("generation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}
	if result.ArtifactURL == "" {
		return nil, fmt.Errorf("generation service returned no artifact")
	}
	return &result, nil
}
