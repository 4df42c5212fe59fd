package core

import "packcore/internal/infra/persistence/sqlite"

// NewSQLiteStore constructs an embedded sqlite store at the provided file
// path (may be empty for the default) with the supplied rules engine.
func NewSQLiteStore(path string, engine *RulesEngine) (*sqlite.Store, error) {
	return sqlite.NewStore(path, engine)
}
