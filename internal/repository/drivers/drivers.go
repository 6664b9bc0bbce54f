// Package drivers links every storage driver into the binary. Importing
// it for side effects registers the flat-file, embedded-SQL and
// networked-SQL backends with the repository registry.
package drivers

import (
	_ "github.com/RMSantista/VibeCForms-sub002/internal/repository/flatfile"
	_ "github.com/RMSantista/VibeCForms-sub002/internal/repository/postgres"
	_ "github.com/RMSantista/VibeCForms-sub002/internal/repository/sqlitestore"
)
