package storage

import "fmt"

const (
	KindMemory = "memory"
	KindSQLite = "sqlite"

	// DefaultSQLitePath is the database file used when a sqlite store is
	// requested without a path.
	DefaultSQLitePath = "pathsim.db"
)

// NewStore builds the run store for kind. An empty kind selects
// DefaultStoreKind for this build.
func NewStore(kind, sqlitePath string) (Store, error) {
	if kind == "" {
		kind = DefaultStoreKind()
	}
	switch kind {
	case KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		if sqlitePath == "" {
			sqlitePath = DefaultSQLitePath
		}
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported run store %q: want %s or %s", kind, KindMemory, KindSQLite)
	}
}

// CloseIfSupported releases stores that hold a connection.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
