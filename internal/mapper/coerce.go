package mapper

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MrJamesThe3rd/finnysync/internal/money"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

func str(r remote.Row, k string) string {
	switch v := r[k].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case float64, int, int64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// number coerces v to a finite float; ok is false for NaN, ±Inf and
// anything non-numeric.
func number(v any) (float64, bool) {
	var f float64

	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}

		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}

		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}

func intOr(r remote.Row, k string, def int) int {
	f, ok := number(r[k])
	if !ok {
		return def
	}

	return int(f)
}

func boolOr(r remote.Row, k string, def bool) bool {
	switch v := r[k].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}

		return b
	default:
		if f, ok := number(v); ok {
			return f != 0
		}

		return def
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != "" && b != "false" && b != "0"
	default:
		f, ok := number(v)
		return ok && f != 0
	}
}

func amount(r remote.Row, k string) money.Amount {
	return money.Parse(r[k]).NonNegative()
}

func amountValue(a money.Amount) json.Number {
	return json.Number(a.String())
}

// millis accepts epoch milliseconds, time.Time and RFC 3339 strings.
func millis(v any) int64 {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UnixMilli()
		}
	}

	f, ok := number(v)
	if !ok {
		return 0
	}

	return int64(f)
}

func timestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// day normalises a calendar day; timestamps are cut to their date part.
func day(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.DateOnly)
	case string:
		if len(t) >= len(time.DateOnly) {
			if _, err := time.Parse(time.DateOnly, t[:len(time.DateOnly)]); err == nil {
				return t[:len(time.DateOnly)]
			}
		}
	}

	return ""
}

func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}

// decode converts a JSON-ish column (already decoded value, JSON text or raw
// bytes) into out. Invalid input leaves out untouched.
func decode[T any](v any, out *T) {
	var raw []byte

	switch b := v.(type) {
	case nil:
		return
	case string:
		raw = []byte(b)
	case []byte:
		raw = b
	case json.RawMessage:
		raw = b
	default:
		var err error

		raw, err = json.Marshal(v)
		if err != nil {
			return
		}
	}

	var tmp T
	if err := json.Unmarshal(raw, &tmp); err != nil {
		return
	}

	*out = tmp
}

func stringList(v any) []string {
	out := []string{}
	decode(v, &out)

	if out == nil {
		return []string{}
	}

	return out
}
