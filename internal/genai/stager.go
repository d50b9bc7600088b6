package genai

import (
	"context"
	"fmt"
	"time"
)

// Stager uploads media to the provider's file service and waits until each
// file is ready for inference. Uploaded files are not usable until the
// service reports them ACTIVE.
type Stager struct {
	client       Client
	pollInterval time.Duration
	timeout      time.Duration
}

// NewStager creates a Stager. pollInterval controls how often file state is
// re-checked; timeout bounds the whole wait per file.
func NewStager(client Client, pollInterval, timeout time.Duration) *Stager {
	return &Stager{
		client:       client,
		pollInterval: pollInterval,
		timeout:      timeout,
	}
}

// Stage uploads data and polls until the remote file is ACTIVE. It returns
// ErrStagingFailed if the service marks the file failed and ErrStagingTimeout
// if the file is still processing when the deadline passes.
func (s *Stager) Stage(ctx context.Context, filename, mimeType string, data []byte) (*RemoteFile, error) {
	file, err := s.client.UploadFile(ctx, filename, mimeType, data)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", filename, err)
	}

	deadline := time.Now().Add(s.timeout)
	for {
		switch file.State {
		case FileStateActive:
			return file, nil
		case FileStateFailed:
			return nil, fmt.Errorf("%w: %s", ErrStagingFailed, filename)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s still %s after %s", ErrStagingTimeout, filename, file.State, s.timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}

		file, err = s.client.GetFile(ctx, file.Name)
		if err != nil {
			return nil, fmt.Errorf("polling %s: %w", filename, err)
		}
	}
}
