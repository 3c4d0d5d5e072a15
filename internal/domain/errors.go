package domain

import "errors"

var (
	// ErrUnrecognized means audio was captured but could not be decoded into text.
	ErrUnrecognized = errors.New("speech not recognized")
	// ErrServiceUnavailable means the transcription backend could not be reached.
	ErrServiceUnavailable = errors.New("transcription service unavailable")
)
