package httpkit

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsStringTooLong reports a PostgreSQL string_data_right_truncation (22001),
// raised when a value exceeds its VARCHAR limit.
func IsStringTooLong(err error) bool {
	return pgCode(err) == "22001"
}

// IsNotNullViolation reports a PostgreSQL not_null_violation (23502).
func IsNotNullViolation(err error) bool {
	return pgCode(err) == "23502"
}
