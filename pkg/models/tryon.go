// Package models contains shared data models used across the try-on service.
package models

import "context"

// TryOnProvider is the boundary to the remote image synthesis service.
// Never call a concrete provider directly; inject this interface.
type TryOnProvider interface {
	// TryOn submits both images and blocks until the remote service returns
	// the synthesized image or fails.
	TryOn(ctx context.Context, req TryOnRequest) (TryOnResult, error)
	// Name returns the provider identifier (e.g. "gradio").
	Name() string
}

// Image is an input image as read from temporary storage.
type Image struct {
	Filename string
	Data     []byte
}

// TryOnRequest is the input to one inference call.
type TryOnRequest struct {
	Person  Image
	Garment Image
}

// TryOnResult holds the synthesized artifact returned by the provider.
type TryOnResult struct {
	Image []byte
	// Filename is the name the remote service gave the artifact, if any.
	Filename string
}
