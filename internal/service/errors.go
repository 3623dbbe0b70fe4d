package service

import (
	"errors"

	"github.com/openclaw/leasepool-server-go/internal/errutil"
	"github.com/openclaw/leasepool-server-go/internal/repository"
)

// classify turns repository errors into the errutil taxonomy.
func classify(err error, entity string) error {
	var classified *errutil.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &classified):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return errutil.NotFound(entity + " not found")
	case errors.Is(err, repository.ErrDuplicate):
		return errutil.Conflict(entity+" already exists", err)
	case errors.Is(err, repository.ErrInsufficientCredits):
		return errutil.Conflict("insufficient credits", err)
	default:
		return errutil.Storage("database operation failed", err)
	}
}
