package gateway_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/gateway"
	"github.com/kiranshivaraju/tryon/internal/gateway/mock"
	"github.com/kiranshivaraju/tryon/internal/storage"
	"github.com/kiranshivaraju/tryon/pkg/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

type fixture struct {
	fs          afero.Fs
	uploads     *storage.Uploads
	results     *storage.Results
	taskID      uuid.UUID
	personPath  string
	garmentPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	uploads, err := storage.NewUploads(fs, "tmp")
	require.NoError(t, err)
	results, err := storage.NewResults(fs, "static/results", "/static/results")
	require.NoError(t, err)

	taskID := uuid.New()
	personPath, err := uploads.Save(taskID, "person", "me.png", bytes.NewReader(mock.PNG()))
	require.NoError(t, err)
	garmentPath, err := uploads.Save(taskID, "garment", "shirt.jpg", bytes.NewReader(mock.JPEG()))
	require.NoError(t, err)

	return &fixture{
		fs:          fs,
		uploads:     uploads,
		results:     results,
		taskID:      taskID,
		personPath:  personPath,
		garmentPath: garmentPath,
	}
}

func (f *fixture) gateway(p models.TryOnProvider, timeout time.Duration) *gateway.Gateway {
	return gateway.New(p, f.uploads, f.results, timeout)
}

type failingPublisher struct{}

func (failingPublisher) Publish(uuid.UUID, []byte) (string, error) {
	return "", errors.New("disk full")
}

// --- Run ---

func TestRun_PublishesResult(t *testing.T) {
	f := newFixture(t)
	g := f.gateway(mock.NewMockProvider(), time.Second)

	url, err := g.Run(context.Background(), f.taskID, f.personPath, f.garmentPath)
	require.NoError(t, err)

	assert.Equal(t, "/static/results/"+f.taskID.String()+".png", url)
	assert.True(t, f.results.Exists(url))
}

func TestRun_PassesBothInputsToProvider(t *testing.T) {
	f := newFixture(t)
	var got models.TryOnRequest
	p := &mock.MockProvider{
		Name_: "capture",
		TryOnFunc: func(_ context.Context, req models.TryOnRequest) (models.TryOnResult, error) {
			got = req
			return models.TryOnResult{Image: mock.JPEG()}, nil
		},
	}

	url, err := f.gateway(p, time.Second).Run(context.Background(), f.taskID, f.personPath, f.garmentPath)
	require.NoError(t, err)

	assert.Equal(t, mock.PNG(), got.Person.Data)
	assert.Equal(t, mock.JPEG(), got.Garment.Data)
	assert.True(t, strings.HasSuffix(got.Person.Filename, "_person_me.png"))
	assert.True(t, strings.HasSuffix(url, ".jpg"))
}

func TestRun_MissingInput(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.uploads.Remove(f.garmentPath))

	_, err := f.gateway(mock.NewMockProvider(), time.Second).Run(context.Background(), f.taskID, f.personPath, f.garmentPath)
	assert.ErrorIs(t, err, gateway.ErrInputUnavailable)
	assert.Equal(t, "InputUnavailable", gateway.ErrorClass(err))
}

func TestRun_ProviderUnavailable(t *testing.T) {
	f := newFixture(t)
	g := f.gateway(mock.NewFailingProvider(gateway.ErrGatewayUnavailable), time.Second)

	_, err := g.Run(context.Background(), f.taskID, f.personPath, f.garmentPath)
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
	assert.Equal(t, "GatewayUnavailable", gateway.ErrorClass(err))
}

func TestRun_UnknownProviderErrorIsInferenceFailed(t *testing.T) {
	f := newFixture(t)
	g := f.gateway(mock.NewFailingProvider(errors.New("boom")), time.Second)

	_, err := g.Run(context.Background(), f.taskID, f.personPath, f.garmentPath)
	assert.ErrorIs(t, err, gateway.ErrInferenceFailed)
	assert.Contains(t, err.Error(), "boom")
}

func TestRun_Timeout(t *testing.T) {
	f := newFixture(t)
	g := f.gateway(mock.NewTimeoutProvider(), 50*time.Millisecond)

	start := time.Now()
	_, err := g.Run(context.Background(), f.taskID, f.personPath, f.garmentPath)
	assert.ErrorIs(t, err, gateway.ErrInferenceTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_RawDeadlineErrorIsTimeout(t *testing.T) {
	f := newFixture(t)
	p := &mock.MockProvider{
		Name_: "raw",
		TryOnFunc: func(ctx context.Context, _ models.TryOnRequest) (models.TryOnResult, error) {
			<-ctx.Done()
			return models.TryOnResult{}, errors.New("read tcp: i/o timeout")
		},
	}

	_, err := f.gateway(p, 20*time.Millisecond).Run(context.Background(), f.taskID, f.personPath, f.garmentPath)
	assert.ErrorIs(t, err, gateway.ErrInferenceTimeout)
}

func TestRun_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.gateway(mock.NewTimeoutProvider(), time.Second).Run(ctx, f.taskID, f.personPath, f.garmentPath)
	assert.ErrorIs(t, err, gateway.ErrInferenceCanceled)
	assert.Equal(t, "InferenceCanceled", gateway.ErrorClass(err))
}

func TestRun_EmptyImage(t *testing.T) {
	f := newFixture(t)
	p := &mock.MockProvider{Name_: "empty"}

	_, err := f.gateway(p, time.Second).Run(context.Background(), f.taskID, f.personPath, f.garmentPath)
	assert.ErrorIs(t, err, gateway.ErrInvalidResponse)
}

func TestRun_PublishFailed(t *testing.T) {
	f := newFixture(t)
	g := gateway.New(mock.NewMockProvider(), f.uploads, failingPublisher{}, time.Second)

	_, err := g.Run(context.Background(), f.taskID, f.personPath, f.garmentPath)
	assert.ErrorIs(t, err, gateway.ErrPublishFailed)
	assert.Equal(t, "PublishFailed", gateway.ErrorClass(err))
}

func TestRun_NoTimeoutConfigured(t *testing.T) {
	f := newFixture(t)
	g := f.gateway(mock.NewMockProvider(), 0)

	_, err := g.Run(context.Background(), f.taskID, f.personPath, f.garmentPath)
	require.NoError(t, err)
}

func TestName(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "mock", f.gateway(mock.NewMockProvider(), time.Second).Name())
}
