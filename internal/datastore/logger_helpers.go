package datastore

import (
	"regexp"
	"strings"
)

// sqlUnknown is used when SQL operation or table cannot be determined.
const sqlUnknown = "unknown"

var (
	selectPattern = regexp.MustCompile(`(?i)^\s*SELECT\s+.*?\s+FROM\s+['"\x60]?(\w+)['"\x60]?`)
	insertPattern = regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\s+['"\x60]?(\w+)['"\x60]?`)
	updatePattern = regexp.MustCompile(`(?i)^\s*UPDATE\s+['"\x60]?(\w+)['"\x60]?`)
	deletePattern = regexp.MustCompile(`(?i)^\s*DELETE\s+FROM\s+['"\x60]?(\w+)['"\x60]?`)
	createPattern = regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?['"\x60]?(\w+)['"\x60]?`)
)

var sqlPatterns = []struct {
	operation string
	re        *regexp.Regexp
}{
	{"select", selectPattern},
	{"insert", insertPattern},
	{"update", updatePattern},
	{"delete", deletePattern},
	{"create", createPattern},
}

// parseSQLOperation extracts the operation type and table name from a query
func parseSQLOperation(sql string) (operation, table string) {
	sql = strings.TrimSpace(sql)
	for _, p := range sqlPatterns {
		if m := p.re.FindStringSubmatch(sql); len(m) > 1 {
			return p.operation, m[1]
		}
	}
	return sqlUnknown, sqlUnknown
}

// categorizeError buckets database errors for metrics labels
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key"):
		return "constraint_violation"
	case strings.Contains(msg, "not null"):
		return "null_violation"
	case strings.Contains(msg, "database is locked"):
		return "database_locked"
	case strings.Contains(msg, "no such table"):
		return "missing_table"
	case strings.Contains(msg, "disk full") || strings.Contains(msg, "no space"):
		return "disk_full"
	default:
		return "other"
	}
}
