package tryon

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ValidationError is returned for uploads that are rejected before a task is
// created. Message is safe to show to the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var (
	ErrNoFilePart     = &ValidationError{Message: "No file part"}
	ErrNoSelectedFile = &ValidationError{Message: "No selected file"}
	ErrInvalidFormat  = &ValidationError{Message: "Invalid file format"}
	ErrEmptyFile      = &ValidationError{Message: "Empty file"}
)

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

var allowedContent = []string{"image/png", "image/jpeg"}

// Upload is one image received from the client. A nil *Upload means the part
// was missing from the request.
type Upload struct {
	Filename string
	Data     []byte
}

// validatePair checks both uploads in the order clients expect the messages:
// presence, file name, extension, content.
func validatePair(person, garment *Upload) error {
	if person == nil || garment == nil {
		return ErrNoFilePart
	}
	if person.Filename == "" || garment.Filename == "" {
		return ErrNoSelectedFile
	}
	if !allowedFile(person.Filename) || !allowedFile(garment.Filename) {
		return ErrInvalidFormat
	}
	if len(person.Data) == 0 || len(garment.Data) == 0 {
		return ErrEmptyFile
	}
	if !isImage(person.Data) || !isImage(garment.Data) {
		return ErrInvalidFormat
	}
	return nil
}

// allowedFile checks the extension after the last dot, case-insensitively.
func allowedFile(filename string) bool {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return false
	}
	return allowedExtensions[strings.ToLower(filename[i+1:])]
}

func isImage(data []byte) bool {
	mt := mimetype.Detect(data)
	for _, want := range allowedContent {
		if mt.Is(want) {
			return true
		}
	}
	return false
}
