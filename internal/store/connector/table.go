package connector

import (
	"fmt"
	"regexp"
	"strings"
)

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateTable accepts "name" or "schema.name" where both parts are plain SQL
// identifiers. Ledger table names are interpolated into statements, so nothing
// else is allowed.
func ValidateTable(table string) error {
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return fmt.Errorf("invalid ledger table %q: too many qualifiers", table)
	}
	for _, p := range parts {
		if !identRegex.MatchString(p) {
			return fmt.Errorf("invalid ledger table %q: %q is not an identifier", table, p)
		}
	}
	return nil
}

// SplitTable splits "schema.name" into its parts. schema is empty when unqualified.
func SplitTable(table string) (schema, name string) {
	if i := strings.IndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// IndexName is the name of the success uniqueness index for table.
func IndexName(table string) string {
	_, name := SplitTable(table)
	return name + "_success_uq"
}
