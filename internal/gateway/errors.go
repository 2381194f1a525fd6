package gateway

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/tryon/internal/gateway/gradio"
)

var (
	ErrGatewayUnavailable = errors.New("inference gateway unavailable")
	ErrInferenceTimeout   = errors.New("inference timeout")
	ErrInferenceCanceled  = errors.New("inference canceled")
	ErrInferenceFailed    = errors.New("remote inference failed")
	ErrInvalidResponse    = errors.New("inference provider returned invalid response")
	ErrInputUnavailable   = errors.New("input image unavailable")
	ErrPublishFailed      = errors.New("publishing result failed")
)

// errorClasses maps sentinel errors to the short class names recorded in task
// status. Order matters: the first match wins.
var errorClasses = []struct {
	err   error
	class string
}{
	{ErrInferenceTimeout, "InferenceTimeout"},
	{context.DeadlineExceeded, "InferenceTimeout"},
	{ErrInferenceCanceled, "InferenceCanceled"},
	{context.Canceled, "InferenceCanceled"},
	{ErrGatewayUnavailable, "GatewayUnavailable"},
	{gradio.ErrSpaceUnavailable, "GatewayUnavailable"},
	{ErrInferenceFailed, "InferenceFailed"},
	{gradio.ErrPredictionFailed, "InferenceFailed"},
	{ErrInvalidResponse, "InvalidResponse"},
	{gradio.ErrBadResponse, "InvalidResponse"},
	{ErrInputUnavailable, "InputUnavailable"},
	{ErrPublishFailed, "PublishFailed"},
}

// ErrorClass returns the class name of err, or "" if it is not a gateway error.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.class
		}
	}
	return ""
}
