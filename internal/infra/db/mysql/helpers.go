package mysql

import "database/sql"

// nullIfEmpty stores absent optional text as NULL; anything else is kept verbatim
func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
