// Package sqlutil builds the MySQL statements used by the export sink.
package sqlutil

import (
	"regexp"
	"strings"
)

// QuoteIdentifier quotes a MySQL identifier (table name, column name) with backticks.
// It escapes any existing backticks by doubling them.
// Example: "licensees" -> "`licensees`"
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// validIdentifierRegex restricts identifiers to alphanumerics and underscore.
var validIdentifierRegex = regexp.MustCompile("^[a-zA-Z0-9_]+$")

// IsValidIdentifier checks if a name is a valid MySQL identifier.
func IsValidIdentifier(name string) bool {
	return validIdentifierRegex.MatchString(name)
}

// QuoteIdentifierSafe quotes a MySQL identifier after validating it.
// Table names come from configuration, so they are always checked.
func QuoteIdentifierSafe(name string) (string, error) {
	if !IsValidIdentifier(name) {
		return "", &InvalidIdentifierError{Name: name}
	}
	return QuoteIdentifier(name), nil
}

// InvalidIdentifierError is returned when an identifier contains invalid characters.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	return "invalid identifier: " + e.Name + " (must contain only alphanumeric characters and underscores)"
}

// QuoteIdentifiers quotes every name after validating it.
func QuoteIdentifiers(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		q, err := QuoteIdentifierSafe(n)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// RowPlaceholders returns "(?, ?, ...)" with n placeholders.
func RowPlaceholders(n int) string {
	if n <= 0 {
		return "()"
	}
	return "(" + strings.Repeat("?, ", n-1) + "?)"
}

// InsertIgnore builds a multi-row INSERT IGNORE for rows rows of columns.
func InsertIgnore(table string, columns []string, rows int) (string, error) {
	qt, err := QuoteIdentifierSafe(table)
	if err != nil {
		return "", err
	}
	qc, err := QuoteIdentifiers(columns)
	if err != nil {
		return "", err
	}

	values := make([]string, rows)
	row := RowPlaceholders(len(columns))
	for i := range values {
		values[i] = row
	}

	return "INSERT IGNORE INTO " + qt + " (" + strings.Join(qc, ", ") + ") VALUES " + strings.Join(values, ", "), nil
}
