package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/api/response"
	"github.com/kiranshivaraju/tryon/internal/tryon"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

const (
	personField  = "personImage"
	garmentField = "garmentImage"

	defaultMultipartMemory = 32 << 20
)

// TaskService defines the interface the try-on handlers depend on.
type TaskService interface {
	CreateTask(ctx context.Context, person, garment *tryon.Upload) (uuid.UUID, error)
	GetStatus(ctx context.Context, id string) (models.TaskRecord, error)
}

// UploadOptions bounds request parsing. Zero MaxBytes disables the body cap.
type UploadOptions struct {
	MaxBytes        int64
	MultipartMemory int64
}

type uploadResponse struct {
	TaskID string `json:"taskId"`
}

type statusMessage struct {
	Status string `json:"status"`
}

// NewRootHandler returns the liveness handler for GET /.
func NewRootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, statusMessage{Status: "Working"})
	}
}

// NewUploadHandler returns an http.HandlerFunc for POST /upload.
func NewUploadHandler(svc TaskService, opts UploadOptions) http.HandlerFunc {
	memory := opts.MultipartMemory
	if memory <= 0 {
		memory = defaultMultipartMemory
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if opts.MaxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, opts.MaxBytes)
		}

		if err := r.ParseMultipartForm(memory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				response.Error(w, http.StatusRequestEntityTooLarge, "File too large")
				return
			}
			response.Error(w, http.StatusBadRequest, tryon.ErrNoFilePart.Message)
			return
		}
		defer func() {
			if err := r.MultipartForm.RemoveAll(); err != nil {
				slog.Warn("failed to remove multipart temp files", "error", err)
			}
		}()

		person, err := readPart(r.MultipartForm, personField)
		if err != nil {
			slog.Error("failed to read upload", "field", personField, "error", err)
			response.Error(w, http.StatusBadRequest, tryon.ErrNoFilePart.Message)
			return
		}
		garment, err := readPart(r.MultipartForm, garmentField)
		if err != nil {
			slog.Error("failed to read upload", "field", garmentField, "error", err)
			response.Error(w, http.StatusBadRequest, tryon.ErrNoFilePart.Message)
			return
		}

		taskID, err := svc.CreateTask(r.Context(), person, garment)
		if err != nil {
			var verr *tryon.ValidationError
			switch {
			case errors.As(err, &verr):
				response.Error(w, http.StatusBadRequest, verr.Message)
			case errors.Is(err, tryon.ErrBusy):
				response.Error(w, http.StatusServiceUnavailable, "Server is busy, try again later")
			default:
				slog.Error("failed to create task", "error", err, "request_id", chimw.GetReqID(r.Context()))
				response.Error(w, http.StatusInternalServerError, "Internal server error")
			}
			return
		}

		response.JSON(w, uploadResponse{TaskID: taskID.String()})
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /status/{taskID}.
func NewStatusHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.GetStatus(r.Context(), chi.URLParam(r, "taskID"))
		if err != nil {
			if errors.Is(err, tryon.ErrTaskNotFound) {
				response.Status(w, http.StatusNotFound, statusMessage{Status: "Task not found"})
				return
			}
			slog.Error("failed to read task status", "error", err, "request_id", chimw.GetReqID(r.Context()))
			response.Error(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		response.JSON(w, rec)
	}
}

// readPart returns nil when the field is absent or was sent as a plain form
// value. A browser's unselected file input still arrives as a file part with
// an empty Filename, which validation reports as an unselected file.
func readPart(form *multipart.Form, field string) (*tryon.Upload, error) {
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return &tryon.Upload{Filename: fh.Filename, Data: data}, nil
}
