package mock

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/kiranshivaraju/tryon/internal/gateway"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// MockProvider satisfies models.TryOnProvider for testing.
type MockProvider struct {
	Name_     string
	TryOnFunc func(ctx context.Context, req models.TryOnRequest) (models.TryOnResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) TryOn(ctx context.Context, req models.TryOnRequest) (models.TryOnResult, error) {
	if m.TryOnFunc != nil {
		return m.TryOnFunc(ctx, req)
	}
	return models.TryOnResult{}, nil
}

// NewMockProvider returns a MockProvider that answers every call with a small PNG.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		TryOnFunc: func(_ context.Context, _ models.TryOnRequest) (models.TryOnResult, error) {
			return models.TryOnResult{Image: PNG(), Filename: "image.png"}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		TryOnFunc: func(_ context.Context, _ models.TryOnRequest) (models.TryOnResult, error) {
			return models.TryOnResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		TryOnFunc: func(ctx context.Context, _ models.TryOnRequest) (models.TryOnResult, error) {
			<-ctx.Done()
			if errors.Is(ctx.Err(), context.Canceled) {
				return models.TryOnResult{}, gateway.ErrInferenceCanceled
			}
			return models.TryOnResult{}, gateway.ErrInferenceTimeout
		},
	}
}

// PNG returns a valid 2x2 PNG image.
func PNG() []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, sample())
	return buf.Bytes()
}

// JPEG returns a valid 2x2 JPEG image.
func JPEG() []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, sample(), nil)
	return buf.Bytes()
}

func sample() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 1, color.RGBA{B: 255, A: 255})
	return img
}

// Compile-time check that MockProvider implements TryOnProvider.
var _ models.TryOnProvider = (*MockProvider)(nil)
