// Package mock provides a genai.Client test double.
package mock

import (
	"context"
	"fmt"

	"github.com/anavarrete/formcoach/internal/genai"
)

// MockClient satisfies genai.Client for testing.
type MockClient struct {
	UploadFileFunc      func(ctx context.Context, filename, mimeType string, data []byte) (*genai.RemoteFile, error)
	GetFileFunc         func(ctx context.Context, name string) (*genai.RemoteFile, error)
	GenerateContentFunc func(ctx context.Context, model string, req genai.GenerateRequest) (string, error)
}

func (m *MockClient) UploadFile(ctx context.Context, filename, mimeType string, data []byte) (*genai.RemoteFile, error) {
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, filename, mimeType, data)
	}
	return &genai.RemoteFile{
		Name:     "files/mock-" + filename,
		URI:      "https://files.example.com/mock-" + filename,
		MIMEType: mimeType,
		State:    genai.FileStateActive,
	}, nil
}

func (m *MockClient) GetFile(ctx context.Context, name string) (*genai.RemoteFile, error) {
	if m.GetFileFunc != nil {
		return m.GetFileFunc(ctx, name)
	}
	return &genai.RemoteFile{Name: name, State: genai.FileStateActive}, nil
}

func (m *MockClient) GenerateContent(ctx context.Context, model string, req genai.GenerateRequest) (string, error) {
	if m.GenerateContentFunc != nil {
		return m.GenerateContentFunc(ctx, model, req)
	}
	return fmt.Sprintf("mock response from %s", model), nil
}

// NewFailingClient returns a MockClient whose generate calls always return
// the given error.
func NewFailingClient(err error) *MockClient {
	return &MockClient{
		GenerateContentFunc: func(_ context.Context, _ string, _ genai.GenerateRequest) (string, error) {
			return "", err
		},
	}
}

// Compile-time check that MockClient implements Client.
var _ genai.Client = (*MockClient)(nil)
