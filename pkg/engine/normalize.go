package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// normalizeValue maps a raw driver value onto the unified scalar set per the
// specification's bit-exact type-normalization contract: int64, string
// (exact decimal digits for numeric/decimal types), float64, bool, ISO-8601
// strings for timestamp/date, "[BLOB DATA]" for binary, hex string for
// ObjectId, and canonical JSON string for nested documents/arrays.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case int64:
		return val
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case float32:
		return float64(val)
	case float64:
		return val
	case bool:
		return val
	case string:
		return val
	case []byte:
		return "[BLOB DATA]"
	case pgtype.Numeric:
		return numericToString(val)
	case *pgtype.Numeric:
		if val == nil {
			return nil
		}
		return numericToString(*val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.UTC().Format("2006-01-02")
		}
		return val.UTC().Format(time.RFC3339Nano)
	case objectIDHex:
		return hex.EncodeToString(val)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// objectIDHex marks a raw byte value as a document-engine ObjectId rather
// than an opaque binary blob, so normalizeValue can render it as a hex
// string per §6 instead of folding it into the blob case.
type objectIDHex []byte

// numericToString renders a pgx pgtype.Numeric (what pgx.Rows.Values()
// returns for numeric/decimal columns) as its exact decimal-digit string,
// per §6's "decimal/numeric -> string (exact decimal digits)" mapping.
// Built from Int/Exp directly rather than via a float conversion, which
// would lose precision on exactly the values this mapping exists to
// preserve.
func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return ""
	}
	if n.NaN {
		return "NaN"
	}
	switch n.InfinityModifier {
	case pgtype.Infinity:
		return "Infinity"
	case pgtype.NegativeInfinity:
		return "-Infinity"
	}
	if n.Int == nil {
		return "0"
	}

	neg := n.Int.Sign() < 0
	digits := new(big.Int).Abs(n.Int).String()

	var s string
	switch {
	case n.Exp >= 0:
		s = digits + strings.Repeat("0", int(n.Exp))
	case int(-n.Exp) >= len(digits):
		s = "0." + strings.Repeat("0", int(-n.Exp)-len(digits)) + digits
	default:
		shift := int(-n.Exp)
		s = digits[:len(digits)-shift] + "." + digits[len(digits)-shift:]
	}
	if neg {
		s = "-" + s
	}
	return s
}
