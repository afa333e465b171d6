package datastore

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/cropscan/cropscan/internal/errors"
)

// dbError creates a categorized database error with operation context.
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if isResourceExhausted(err) {
		builder = builder.Priority(errors.PriorityCritical)
	} else if isTransient(err) {
		builder = builder.Priority(errors.PriorityLow).Context("transient", true)
	}

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder.Build()
}

func notFoundError(id uint) error {
	return errors.Newf("scan %d not found", id).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("scan_id", id).
		Build()
}

func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}

// isTransient reports whether retrying the operation may succeed.
func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var mysqlErr *mysql.MySQLError
	if stderrors.As(err, &mysqlErr) {
		// 1205 lock wait timeout, 1213 deadlock
		return mysqlErr.Number == 1205 || mysqlErr.Number == 1213
	}
	return stderrors.Is(err, mysql.ErrInvalidConn)
}

func isResourceExhausted(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space") || strings.Contains(msg, "disk full")
}

func isRecordNotFound(err error) bool {
	return stderrors.Is(err, gorm.ErrRecordNotFound)
}
