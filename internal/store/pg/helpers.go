package pg

import (
	"database/sql"
)

// nilStr converts an empty string to a SQL NULL on write.
func nilStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// strOrEmpty reads a nullable text column back into a plain string.
func strOrEmpty(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

// nilInt64Ptr converts a nil *int64 to a SQL NULL on write.
func nilInt64Ptr(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// int64PtrOrNil reads a nullable bigint column back into *int64.
func int64PtrOrNil(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

