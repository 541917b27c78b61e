package db

import (
	"strings"

	"github.com/teranos/lookout/errors"
)

// ErrDatabaseClosed marks errors from a database used after Close,
// typically a run finishing while the server drains on shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed matches ErrDatabaseClosed and the raw driver message,
// which database/sql returns unwrapped.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// MarkClosed marks err with ErrDatabaseClosed and ErrServiceUnavailable when
// it comes from a closed database. Other errors are returned unchanged.
func MarkClosed(err error) error {
	if err == nil || errors.Is(err, ErrDatabaseClosed) || !IsDatabaseClosed(err) {
		return err
	}
	return errors.Mark(errors.Mark(err, ErrDatabaseClosed), errors.ErrServiceUnavailable)
}
