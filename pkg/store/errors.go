package store

import (
	"errors"

	"github.com/KevoDB/jstore/pkg/journal"
)

var (
	// ErrStoreExists is returned when creating a store under a name already in use
	ErrStoreExists = errors.New("store already exists")
	// ErrStoreNotFound is returned for unknown store names
	ErrStoreNotFound = errors.New("store not found")
	// ErrInvalidStoreName is returned for empty names and names that are not plain file names
	ErrInvalidStoreName = errors.New("invalid store name")
	// ErrDBClosed is returned when a closed database is used
	ErrDBClosed = errors.New("database is closed")

	// Journal errors surfaced by the typed API
	ErrNotFound         = journal.ErrNotFound
	ErrTypeMismatch     = journal.ErrTypeMismatch
	ErrUnsupportedType  = journal.ErrUnsupportedType
	ErrInvalidPayload   = journal.ErrInvalidPayload
	ErrCapacityExceeded = journal.ErrCapacityExceeded
	ErrNotSynced        = journal.ErrNotSynced
)
