package db

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// mysqlDupEntry is ER_DUP_ENTRY.
const mysqlDupEntry = 1062

// ErrIntegrityViolation matches any StoreError caused by a uniqueness conflict.
var ErrIntegrityViolation = errors.New("integrity violation")

// StoreError is the single error kind returned by store operations. Task
// describes what the store was doing when the driver failed.
type StoreError struct {
	Task string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("error occurred while %s: %v", e.Task, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrIntegrityViolation) see through the driver error.
func (e *StoreError) Is(target error) bool {
	return target == ErrIntegrityViolation && isConstraintViolation(e.Err)
}

// IsIntegrityViolation reports whether err was caused by a duplicate key.
func IsIntegrityViolation(err error) bool {
	return errors.Is(err, ErrIntegrityViolation) || isConstraintViolation(err)
}

func wrapErr(task string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Task: task, Err: err}
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return true
		}
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDupEntry
	}

	return false
}
