package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// InputReader reads the temporary input images.
type InputReader interface {
	Read(path string) ([]byte, error)
}

// Publisher moves a result artifact into the public result directory.
type Publisher interface {
	Publish(taskID uuid.UUID, data []byte) (string, error)
}

// Gateway hides the provider call shape behind a two-path contract: it reads
// both inputs, runs one inference with a deadline and publishes the artifact.
type Gateway struct {
	provider models.TryOnProvider
	inputs   InputReader
	results  Publisher
	timeout  time.Duration
}

func New(provider models.TryOnProvider, inputs InputReader, results Publisher, timeout time.Duration) *Gateway {
	return &Gateway{
		provider: provider,
		inputs:   inputs,
		results:  results,
		timeout:  timeout,
	}
}

func (g *Gateway) Name() string { return g.provider.Name() }

// Run returns the URL path of the published result. It never retries.
func (g *Gateway) Run(ctx context.Context, taskID uuid.UUID, personPath, garmentPath string) (string, error) {
	person, err := g.readInput(personPath)
	if err != nil {
		return "", err
	}
	garment, err := g.readInput(garmentPath)
	if err != nil {
		return "", err
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := g.provider.TryOn(callCtx, models.TryOnRequest{Person: person, Garment: garment})
	if err != nil {
		return "", classifyCallError(callCtx, err)
	}
	slog.Info("inference completed",
		"task_id", taskID,
		"provider", g.provider.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
		"bytes", len(result.Image),
	)

	if len(result.Image) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrInvalidResponse)
	}

	url, err := g.results.Publish(taskID, result.Image)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return url, nil
}

func (g *Gateway) readInput(path string) (models.Image, error) {
	data, err := g.inputs.Read(path)
	if err != nil {
		return models.Image{}, fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}
	return models.Image{Filename: filepath.Base(path), Data: data}, nil
}

// classifyCallError makes sure deadline and cancellation surface as gateway
// sentinels even when the provider returned a transport error.
func classifyCallError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrInferenceTimeout), errors.Is(err, ErrInferenceCanceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %v", ErrInferenceCanceled, err)
	case ErrorClass(err) != "":
		return err
	default:
		return fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
}
