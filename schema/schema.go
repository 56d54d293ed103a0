// Package schema defines the explicit, caller-supplied description of a
// logical database schema and derives a deterministic fingerprint from it.
// The fingerprint is the identity the engine uses to decide whether the
// backing store must be rebuilt or can be reused as-is.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Column describes the structural shape of a single column. Only shape
// matters for identity: the type tag and the notNull/primaryKey flags.
// Defaults, check constraints and the like are deliberately not part of
// the fingerprint.
type Column struct {
	// Type is the dialect-level type tag, e.g. "text", "bigint", "uuid".
	Type string
	// NotNull marks the column as NOT NULL.
	NotNull bool
	// PrimaryKey marks the column as part of the table's primary key.
	PrimaryKey bool
}

// Table maps column names to their structural description.
type Table map[string]Column

// Schema maps table names to their column sets. It is a plain value type:
// callers build it literally, no runtime introspection is involved.
type Schema map[string]Table

// Tables returns the table names in ascending order.
func (s Schema) Tables() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EmptyFingerprint is the fixed digest of a schema with no tables.
var EmptyFingerprint = Fingerprint(nil)

// Fingerprint computes a stable digest of the schema's structural shape.
// It is a pure function: repeated calls on an equal schema yield an equal
// digest, and any added, removed or retyped table or column changes it.
// Serialization is canonical (sorted table names, sorted column names,
// fixed field order), so map iteration order never leaks into the result.
func Fingerprint(s Schema) string {
	h := sha256.New()
	for _, tableName := range s.Tables() {
		table := s[tableName]
		writeField(h, "table", tableName)
		columns := make([]string, 0, len(table))
		for columnName := range table {
			columns = append(columns, columnName)
		}
		sort.Strings(columns)
		for _, columnName := range columns {
			col := table[columnName]
			writeField(h, "column", columnName)
			writeField(h, "type", col.Type)
			writeField(h, "notNull", flag(col.NotNull))
			writeField(h, "primaryKey", flag(col.PrimaryKey))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes a length-prefix-free but unambiguous key/value pair.
// The NUL separators cannot occur in identifiers or type tags, so two
// different schemas can never serialize to the same byte stream.
func writeField(h interface{ Write(p []byte) (int, error) }, key, value string) {
	_, _ = h.Write([]byte(key))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(value))
	_, _ = h.Write([]byte{0})
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
