package models

import (
	"context"
	"errors"
)

var (
	ErrDuplicateContent  = errors.New("duplicate content")
	ErrDuplicateFileName = errors.New("duplicate file name")
	ErrExtractionFailed  = errors.New("text extraction failed")
	ErrModelUnavailable  = errors.New("embedding model unavailable")
	ErrInference         = errors.New("inference failed")
	ErrIndexUnavailable  = errors.New("vector index unavailable")
	ErrUploadRejected    = errors.New("upload rejected")
	ErrGeneration        = errors.New("answer generation failed")
	ErrProfileMismatch   = errors.New("embedding profile mismatch")
)

// UserMessage maps an error to a stable message safe to show to a user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateContent):
		return "This document has already been uploaded."
	case errors.Is(err, ErrDuplicateFileName):
		return "A document with this file name has already been uploaded."
	case errors.Is(err, ErrUploadRejected):
		return "The upload was rejected. Please upload a non-empty PDF within the size limit."
	case errors.Is(err, ErrExtractionFailed):
		return "The PDF could not be read."
	case errors.Is(err, ErrModelUnavailable):
		return "The embedding model is not available."
	case errors.Is(err, ErrInference):
		return "The model failed to process the request."
	case errors.Is(err, ErrProfileMismatch):
		return "The index was built with different embedding settings. Clear it or restore the original settings."
	case errors.Is(err, ErrGeneration):
		return "I encountered an error while trying to answer your question. Please try again later."
	case errors.Is(err, ErrIndexUnavailable):
		return "The document store is temporarily unavailable. Please try again."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled."
	default:
		return "An unexpected error occurred."
	}
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrIndexUnavailable)
}
