package repository

import (
	"errors"

	"gorm.io/gorm"

	"settlement-reconciliation-engine/internal/ports"
)

// translate maps gorm errors onto the port sentinels. The connection must be
// opened with TranslateError so duplicate keys surface as gorm.ErrDuplicatedKey.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ports.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ports.ErrConflict
	}
	return err
}
