package service

import (
	"errors"
	"fmt"

	"judgments-backend/repository"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrConfiguration = errors.New("unsupported court configuration")
	ErrScrapeFailed  = errors.New("scrape failed")
	ErrCaseNotFound  = repository.ErrNotFound
)

// ValidationError reports a malformed resolution request
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
