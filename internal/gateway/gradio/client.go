// Package gradio calls a hosted Gradio try-on space over its HTTP API:
// upload both inputs, start a prediction, follow its event stream and
// download the produced image.
package gradio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/kiranshivaraju/tryon/internal/config"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// Sentinel errors for Gradio client failures.
var (
	ErrSpaceUnavailable = errors.New("gradio space unavailable")
	ErrPredictionFailed = errors.New("gradio prediction failed")
	ErrBadResponse      = errors.New("gradio returned an unexpected response")
)

// Fixed inference parameters sent with every prediction.
const (
	garmentDescription = "Hello!!"
	autoMask           = true
	autoCrop           = false
	denoiseSteps       = 30
	seed               = 42
)

const maxEventLine = 8 << 20

// Client implements models.TryOnProvider against a Gradio space.
type Client struct {
	baseURL   string
	apiPrefix string
	apiName   string
	token     string
	client    *http.Client
}

// NewClient creates a Gradio client. The HTTP client has no overall timeout;
// the caller's context bounds each call.
func NewClient(cfg config.GradioConfig) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiPrefix: "/" + strings.Trim(cfg.APIPrefix, "/"),
		apiName:   strings.Trim(cfg.APIName, "/"),
		token:     cfg.Token,
		client:    &http.Client{},
	}
}

func (c *Client) Name() string { return "gradio" }

func (c *Client) TryOn(ctx context.Context, req models.TryOnRequest) (models.TryOnResult, error) {
	person, err := c.upload(ctx, req.Person)
	if err != nil {
		return models.TryOnResult{}, fmt.Errorf("uploading person image: %w", err)
	}
	garment, err := c.upload(ctx, req.Garment)
	if err != nil {
		return models.TryOnResult{}, fmt.Errorf("uploading garment image: %w", err)
	}

	eventID, err := c.submit(ctx, []any{
		imageEditorValue{Background: person, Layers: []fileData{}, Composite: nil},
		garment,
		garmentDescription,
		autoMask,
		autoCrop,
		denoiseSteps,
		seed,
	})
	if err != nil {
		return models.TryOnResult{}, fmt.Errorf("starting prediction: %w", err)
	}

	outputs, err := c.await(ctx, eventID)
	if err != nil {
		return models.TryOnResult{}, err
	}

	file, err := firstFile(outputs)
	if err != nil {
		return models.TryOnResult{}, err
	}

	data, err := c.download(ctx, file)
	if err != nil {
		return models.TryOnResult{}, fmt.Errorf("downloading result: %w", err)
	}

	name := file.OrigName
	if name == "" {
		name = path.Base(file.Path)
	}
	return models.TryOnResult{Image: data, Filename: name}, nil
}

// upload sends one file to the space and returns a reference usable as input.
func (c *Client) upload(ctx context.Context, img models.Image) (fileData, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", img.Filename)
	if err != nil {
		return fileData{}, fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return fileData{}, fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fileData{}, fmt.Errorf("building upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("upload"), &body)
	if err != nil {
		return fileData{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fileData{}, classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fileData{}, err
	}

	var paths []string
	if err := json.NewDecoder(resp.Body).Decode(&paths); err != nil {
		return fileData{}, fmt.Errorf("%w: decoding upload response: %v", ErrBadResponse, err)
	}
	if len(paths) != 1 || paths[0] == "" {
		return fileData{}, fmt.Errorf("%w: upload returned %d paths", ErrBadResponse, len(paths))
	}

	return fileData{
		Path:     paths[0],
		OrigName: img.Filename,
		Meta:     fileMeta{Type: "gradio.FileData"},
	}, nil
}

// submit starts a prediction and returns its event id.
func (c *Client) submit(ctx context.Context, data []any) (string, error) {
	payload, err := json.Marshal(callRequest{Data: data})
	if err != nil {
		return "", fmt.Errorf("encoding prediction: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("call", c.apiName), bytes.NewReader(payload))
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

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var call callResponse
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return "", fmt.Errorf("%w: decoding call response: %v", ErrBadResponse, err)
	}
	if call.EventID == "" {
		return "", fmt.Errorf("%w: missing event_id", ErrBadResponse)
	}
	return call.EventID, nil
}

// await follows the prediction's event stream until it completes or fails.
func (c *Client) await(ctx context.Context, eventID string) ([]json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint("call", c.apiName, url.PathEscape(eventID)), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	ev, err := readTerminalEvent(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("reading event stream: %w", ctx.Err())
		}
		return nil, err
	}

	switch ev.name {
	case "complete":
		var outputs []json.RawMessage
		if err := json.Unmarshal([]byte(ev.data), &outputs); err != nil {
			return nil, fmt.Errorf("%w: decoding outputs: %v", ErrBadResponse, err)
		}
		return outputs, nil
	default:
		msg := strings.TrimSpace(ev.data)
		if msg == "" || msg == "null" {
			msg = "no details"
		}
		return nil, fmt.Errorf("%w: %s", ErrPredictionFailed, msg)
	}
}

func (c *Client) download(ctx context.Context, file fileData) ([]byte, error) {
	u := file.URL
	switch {
	case u == "":
		u = c.endpoint("file=" + file.Path)
	case strings.HasPrefix(u, "/"):
		u = c.baseURL + u
	}

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

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty result file", ErrBadResponse)
	}
	return data, nil
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL + path.Join(append([]string{c.apiPrefix}, parts...)...)
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// checkStatus maps non-2xx responses to sentinel errors.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", ErrSpaceUnavailable, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d: %s", ErrPredictionFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// classifyError maps transport-level errors to sentinel errors. Context
// errors are kept wrapped so the caller can tell timeouts from outages.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrSpaceUnavailable, context.DeadlineExceeded)
	}

	return fmt.Errorf("%w: %v", ErrSpaceUnavailable, err)
}

type event struct {
	name string
	data string
}

// readTerminalEvent scans a server-sent event stream and returns the first
// "complete" or "error" event. Progress and heartbeat events are skipped.
func readTerminalEvent(r io.Reader) (event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxEventLine)

	var cur event
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			cur.data = strings.Join(data, "\n")
			if cur.name == "complete" || cur.name == "error" {
				return cur, nil
			}
			cur, data = event{}, nil
		case strings.HasPrefix(line, "event:"):
			cur.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := sc.Err(); err != nil {
		return event{}, classifyError(err)
	}
	// Stream closed without a blank line after the last event.
	if cur.name == "complete" || cur.name == "error" {
		cur.data = strings.Join(data, "\n")
		return cur, nil
	}
	return event{}, fmt.Errorf("%w: event stream ended without a result", ErrBadResponse)
}

// firstFile returns the first output that references a file.
func firstFile(outputs []json.RawMessage) (fileData, error) {
	for _, raw := range outputs {
		var fd fileData
		if err := json.Unmarshal(raw, &fd); err != nil {
			continue
		}
		if fd.Path != "" || fd.URL != "" {
			return fd, nil
		}
	}
	return fileData{}, fmt.Errorf("%w: no image in outputs", ErrBadResponse)
}

// --- Gradio wire types ---

type fileMeta struct {
	Type string `json:"_type"`
}

type fileData struct {
	Path     string   `json:"path"`
	URL      string   `json:"url,omitempty"`
	OrigName string   `json:"orig_name,omitempty"`
	Meta     fileMeta `json:"meta"`
}

type imageEditorValue struct {
	Background fileData   `json:"background"`
	Layers     []fileData `json:"layers"`
	Composite  *fileData  `json:"composite"`
}

type callRequest struct {
	Data []any `json:"data"`
}

type callResponse struct {
	EventID string `json:"event_id"`
}

// Compile-time check that Client implements TryOnProvider.
var _ models.TryOnProvider = (*Client)(nil)
