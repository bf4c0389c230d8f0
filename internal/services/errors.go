package services

import (
	"github.com/pkg/errors"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/storage"
)

// storeError classifies a storage failure for callers.
func storeError(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(what + " not found")
	}
	return apperr.Unavailable(err, "storage temporarily unavailable")
}

func gatewayError(err error) error {
	return apperr.Unavailable(err, "signing provider unavailable")
}
