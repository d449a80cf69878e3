package service

import (
	"database/sql"
	"errors"

	"github.com/noah-isme/edu-billing-api/internal/repository"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
)

// storeError translates persistence failures into typed application errors. Errors that
// are already typed pass through so business rules raised inside a transaction keep
// their kind.
func storeError(err error, notFound, failure string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	case errors.Is(err, repository.ErrConcurrentModification):
		return appErrors.Wrap(err, appErrors.ErrConcurrentModification.Code, appErrors.ErrConcurrentModification.Status, appErrors.ErrConcurrentModification.Message)
	case errors.Is(err, repository.ErrDuplicate):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, failure)
	default:
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, failure)
	}
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
