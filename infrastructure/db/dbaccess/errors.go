package dbaccess

import "github.com/tenebra-net/tenebrad/infrastructure/db/database"

// IsNotFoundError checks whether an error is an ErrNotFound.
func IsNotFoundError(err error) bool {
	return database.IsNotFoundError(err)
}
