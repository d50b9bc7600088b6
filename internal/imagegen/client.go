// Package imagegen generates exercise illustrations through the provider's
// image prediction API.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for image generation failures.
var (
	// ErrBillingRequired means the API key's project has no billing enabled
	// for image generation. Callers treat this as expected and skip
	// illustrations instead of failing.
	ErrBillingRequired = errors.New("image generation requires billing")

	ErrGenerationFailed = errors.New("image generation failed")
)

// Image is a generated illustration.
type Image struct {
	Data     []byte
	MIMEType string
}

// Client is the interface for generating images from text prompts.
type Client interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
}

// HTTPClient implements Client against the provider's predict endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPClient creates a new image generation client.
func NewHTTPClient(baseURL, apiKey, model string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Generate(ctx context.Context, prompt string) (*Image, error) {
	u := fmt.Sprintf("%s/v1beta/models/%s:predict", c.baseURL, c.model)

	// Illustrations are rendered as square tiles, and exercise prompts
	// describe people, so adult person generation must be allowed.
	body, err := json.Marshal(predictBody{
		Instances: []predictInstance{{Prompt: prompt}},
		Parameters: predictParameters{
			SampleCount:      1,
			AspectRatio:      "1:1",
			PersonGeneration: "allow_adult",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding predict request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := readErrorBody(resp.Body)
		if isBillingError(resp.StatusCode, detail) {
			return nil, fmt.Errorf("%w: status %d", ErrBillingRequired, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrGenerationFailed, resp.StatusCode, detail)
	}

	var predictResp predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&predictResp); err != nil {
		return nil, fmt.Errorf("decoding predict response: %w", err)
	}
	if len(predictResp.Predictions) == 0 {
		return nil, fmt.Errorf("%w: no predictions returned", ErrGenerationFailed)
	}

	pred := predictResp.Predictions[0]
	data, err := base64.StdEncoding.DecodeString(pred.BytesBase64Encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding image data: %w", err)
	}

	mimeType := pred.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &Image{Data: data, MIMEType: mimeType}, nil
}

// isBillingError detects the provider's billing-gated rejection. The API
// reports it as 403 with a billing hint in the message body.
func isBillingError(status int, detail string) bool {
	if status != http.StatusForbidden {
		return false
	}
	lower := strings.ToLower(detail)
	return strings.Contains(lower, "billing") || strings.Contains(lower, "billed users")
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// --- API request/response types ---

type predictBody struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	SampleCount      int    `json:"sampleCount"`
	AspectRatio      string `json:"aspectRatio"`
	PersonGeneration string `json:"personGeneration"`
}

type predictResponse struct {
	Predictions []prediction `json:"predictions"`
}

type prediction struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MIMEType           string `json:"mimeType"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
