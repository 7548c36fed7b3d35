// Package repository holds the gorm/Postgres implementations of the stores
// the services depend on.
package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/keyshop-backend/internal/utils"
)

var (
	forUpdate       = clause.Locking{Strength: "UPDATE"}
	forUpdateSkipLk = clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}
)

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.NotFound(format, args...)
	}
	return err
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
