package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Remote file lifecycle states reported by the file service.
const (
	FileStateProcessing = "PROCESSING"
	FileStateActive     = "ACTIVE"
	FileStateFailed     = "FAILED"
)

// RemoteFile describes a file held by the inference provider's file service.
type RemoteFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
}

// GenerateRequest is a single inference call against one model.
type GenerateRequest struct {
	Prompt string
	Files  []RemoteFile
	// JSONOutput asks the model to respond with a JSON document only.
	JSONOutput bool
}

// Client is the interface for the generative inference API.
type Client interface {
	UploadFile(ctx context.Context, filename, mimeType string, data []byte) (*RemoteFile, error)
	GetFile(ctx context.Context, name string) (*RemoteFile, error)
	GenerateContent(ctx context.Context, model string, req GenerateRequest) (string, error)
}

// HTTPClient implements Client against the provider's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a new inference HTTP client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) UploadFile(ctx context.Context, filename, mimeType string, data []byte) (*RemoteFile, error) {
	u := fmt.Sprintf("%s/upload/v1beta/files", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mimeType)
	httpReq.Header.Set("X-Goog-Upload-Protocol", "raw")
	httpReq.Header.Set("X-Goog-File-Name", filename)
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, readErrorBody(resp.Body))
	}

	var uploadResp fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}
	return &uploadResp.File, nil
}

func (c *HTTPClient) GetFile(ctx context.Context, name string) (*RemoteFile, error) {
	u := fmt.Sprintf("%s/v1beta/%s", c.baseURL, name)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, readErrorBody(resp.Body))
	}

	var file RemoteFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding file response: %w", err)
	}
	return &file, nil
}

func (c *HTTPClient) GenerateContent(ctx context.Context, model string, req GenerateRequest) (string, error) {
	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)

	body, err := json.Marshal(buildGenerateBody(req))
	if err != nil {
		return "", fmt.Errorf("encoding generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, readErrorBody(resp.Body))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decoding generate response: %w", err)
	}

	if genResp.PromptFeedback != nil && genResp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", ErrModelRejected, genResp.PromptFeedback.BlockReason)
	}
	if len(genResp.Candidates) == 0 {
		return "", fmt.Errorf("%w: empty response from %s", ErrModelUnavailable, model)
	}

	var sb strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: no text in response from %s", ErrModelUnavailable, model)
	}
	return text, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
}

// classifyStatus splits HTTP failures into transient and permanent errors.
// Rate limits and server errors are transient. So is 404: a retired or
// renamed model only means this tier is gone, and the next tier may still
// serve the request. Everything else (bad request, auth) will not succeed
// on another tier.
func classifyStatus(status int, detail string) error {
	if status == http.StatusTooManyRequests || status == http.StatusNotFound || status >= 500 {
		return fmt.Errorf("%w: status %d: %s", ErrModelUnavailable, status, detail)
	}
	return fmt.Errorf("%w: status %d: %s", ErrModelRejected, status, detail)
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func buildGenerateBody(req GenerateRequest) generateBody {
	parts := make([]generatePart, 0, len(req.Files)+1)
	for _, f := range req.Files {
		parts = append(parts, generatePart{
			FileData: &fileData{FileURI: f.URI, MIMEType: f.MIMEType},
		})
	}
	parts = append(parts, generatePart{Text: req.Prompt})

	body := generateBody{
		Contents: []generateContent{{Parts: parts}},
	}
	if req.JSONOutput {
		body.GenerationConfig = &generationConfig{ResponseMIMEType: "application/json"}
	}
	return body
}

// --- API request/response types ---

type generateBody struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generatePart struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	FileURI  string `json:"fileUri"`
	MIMEType string `json:"mimeType"`
}

type generationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback"`
}

type candidate struct {
	Content generateContent `json:"content"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type fileResponse struct {
	File RemoteFile `json:"file"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
