package downloads

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// FetchRequest describes one resolution attempt.
type FetchRequest struct {
	URL    string
	Format Format
	// Dir is the job scratch directory; providers write only inside it.
	Dir string
	// MaxBytes lets streaming providers stop once the ceiling is exceeded.
	MaxBytes int64
}

// Provider is one resolution strategy. Fetch returns the path of the
// downloaded artifact inside request.Dir.
type Provider interface {
	Name() string
	Supports(request FetchRequest) bool
	Fetch(ctx context.Context, request FetchRequest) (string, error)
}

// resolve runs the providers in order and returns the first artifact.
// Failures fall through to the next provider; only exhausting the list is an error.
// Every attempt gets its own subdirectory of request.Dir, removed when the
// attempt fails, so leftovers of one provider never reach the next.
func resolve(ctx context.Context, providers []Provider, request FetchRequest, logger *zap.Logger) (string, string, error) {
	var lastErr error
	for _, provider := range providers {
		if !provider.Supports(request) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		attempt, err := os.MkdirTemp(request.Dir, provider.Name()+"-")
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		attemptRequest := request
		attemptRequest.Dir = attempt
		path, err := provider.Fetch(ctx, attemptRequest)
		if err == nil {
			return path, provider.Name(), nil
		}
		if removeErr := os.RemoveAll(attempt); removeErr != nil {
			logger.Warn("provider scratch cleanup failed",
				zap.String("provider", provider.Name()),
				zap.Error(removeErr))
		}
		logger.Info("provider failed, falling back",
			zap.String("provider", provider.Name()),
			zap.String("url", request.URL),
			zap.Error(err))
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no provider supports the request")
	}
	return "", "", fmt.Errorf("%w: %v", ErrDownloadFailed, lastErr)
}
