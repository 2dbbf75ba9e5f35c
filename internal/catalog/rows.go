package catalog

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgtype"
)

// normalizeValue converts driver values into JSON-friendly scalars
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case [16]byte:
		h := hex.EncodeToString(val[:])
		return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case *big.Int:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return val
	}
}

// plain converts a result into maps, slices and scalars so goja and the
// worker protocol see the same JSON field names.
func plain(v interface{}) (interface{}, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	var out interface{}
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return out, nil
}
