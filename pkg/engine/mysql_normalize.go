package engine

import (
	"strconv"
	"strings"
	"time"
)

// mysqlBinaryTypes names the go-sql-driver/mysql DatabaseTypeName() values
// that identify a genuinely binary column. go-sql-driver/mysql's text
// protocol (the path a parameterless QueryContext takes) hands every column
// back as []byte regardless of its declared type, so []byte alone never
// distinguishes a BLOB from a VARCHAR or DECIMAL — only the column's
// reported type does.
var mysqlBinaryTypes = map[string]bool{
	"BLOB": true, "TINYBLOB": true, "MEDIUMBLOB": true, "LONGBLOB": true,
	"BINARY": true, "VARBINARY": true, "GEOMETRY": true,
}

var mysqlIntegerTypes = map[string]bool{
	"TINYINT": true, "SMALLINT": true, "MEDIUMINT": true, "INT": true, "BIGINT": true, "YEAR": true,
}

var mysqlFloatTypes = map[string]bool{
	"FLOAT": true, "DOUBLE": true,
}

// normalizeMySQLValue maps one scanned column value onto the unified scalar
// set, consulting dbType whenever the driver handed back a raw []byte so
// that text, decimal, and binary columns are told apart per §6 instead of
// all collapsing to "[BLOB DATA]".
func normalizeMySQLValue(raw any, dbType string) any {
	b, ok := raw.([]byte)
	if !ok {
		return normalizeValue(raw)
	}
	if b == nil {
		return nil
	}

	switch t := strings.ToUpper(dbType); {
	case mysqlBinaryTypes[t]:
		return "[BLOB DATA]"
	case mysqlIntegerTypes[t]:
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
		return string(b)
	case mysqlFloatTypes[t]:
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
		return string(b)
	case t == "DATE":
		return string(b) // already "YYYY-MM-DD", an ISO-8601 date string
	case t == "DATETIME", t == "TIMESTAMP":
		if ts, err := time.Parse("2006-01-02 15:04:05.999999", string(b)); err == nil {
			return ts.UTC().Format(time.RFC3339Nano)
		}
		return string(b)
	default:
		// VARCHAR/TEXT/CHAR/DECIMAL/JSON/ENUM/SET/TIME/BIT and anything
		// else: the raw text-protocol bytes are already the value's exact
		// representation, which is precisely what DECIMAL/NUMERIC needs
		// ("decimal/numeric -> string, exact decimal digits" per §6).
		return string(b)
	}
}
