package dolt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vmrag/vmrag/internal/errors"
)

// Quote returns s as a SQL string literal with single quotes doubled.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteJSON marshals v and returns it as a SQL string literal, for writing
// into JSON columns.
func QuoteJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON value: %w", err)
	}
	return Quote(string(data)), nil
}

// rowsEnvelope is the shape of `dolt sql -r json` output.
type rowsEnvelope struct {
	Rows []map[string]any `json:"rows"`
}

// parseRows decodes the {"rows":[...]} envelope. Empty output means zero rows.
func parseRows(stdout string) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, nil
	}

	var envelope rowsEnvelope
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil, errors.OperationError(
			fmt.Sprintf("malformed JSON from versioned store: %v", err), err)
	}
	return envelope.Rows, nil
}

var affectedRe = regexp.MustCompile(`(\d+) rows? affected`)

// parseAffected extracts the affected-row count from write output; zero when
// the CLI did not report one.
func parseAffected(stdout string) int {
	m := affectedRe.FindStringSubmatch(stdout)
	if len(m) != 2 {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// rowString reads a column as string, tolerating absence and NULL.
func rowString(row map[string]any, key string) string {
	if v, ok := row[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		case float64:
			// Integral numbers come back as float64 from JSON.
			if s == float64(int64(s)) {
				return strconv.FormatInt(int64(s), 10)
			}
			return strconv.FormatFloat(s, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(s)
		}
	}
	return ""
}

// rowInt reads a column as int; JSON numbers and numeric strings both work.
func rowInt(row map[string]any, key string) int {
	switch v := row[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// rowBool reads a column as bool; dolt returns booleans as 0/1 or text.
func rowBool(row map[string]any, key string) bool {
	switch v := row[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v == "1" || strings.EqualFold(v, "true")
	}
	return false
}

// timeFormats are tried in order when parsing timestamp columns.
var timeFormats = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

// rowTime parses a timestamp column; zero time when absent or unparseable.
func rowTime(row map[string]any, key string) time.Time {
	s := rowString(row, key)
	if s == "" {
		return time.Time{}
	}
	for _, format := range timeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// sqlTime formats a timestamp for a SQL literal.
func sqlTime(t time.Time) string {
	return Quote(t.UTC().Format("2006-01-02 15:04:05"))
}
