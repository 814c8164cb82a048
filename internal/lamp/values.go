package lamp

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
)

func requestContext(r *http.Request) context.Context {
	if r == nil {
		return context.Background()
	}

	return r.Context()
}

// toBool accepts the forms controllers use for boolean writes.
func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int:
		return b != 0, true
	case float64:
		return b != 0, true
	case json.Number:
		n, err := b.Float64()
		return n != 0, err == nil
	}

	return false, false
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(math.Round(n)), true
	case json.Number:
		f, err := n.Float64()
		return int(math.Round(f)), err == nil
	}

	return 0, false
}
