// Package all registers every storage backend. Import it for side effects
// from binaries that pick the backend at runtime.
package all

import (
	_ "statsync/internal/storage/mssql"
	_ "statsync/internal/storage/mysql"
	_ "statsync/internal/storage/postgres"
	_ "statsync/internal/storage/sqlite"
)
