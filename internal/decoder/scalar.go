package decoder

import (
	"bytes"
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"l4book/pkg/exception"
)

// parseDecimal accepts a JSON string or number holding a finite, non-negative decimal.
func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	s, ok := scalarText(raw)
	if !ok || s == "" {
		return decimal.Decimal{}, errors.Wrapf(exception.ErrMalformedEntry, "not a scalar: %s", truncate(raw, 32))
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(exception.ErrMalformedEntry, "parse decimal %q", s)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, errors.Wrapf(exception.ErrMalformedEntry, "negative decimal %q", s)
	}

	return d, nil
}

// scalarText returns the text of a JSON string, or the literal of a JSON number.
func scalarText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}

	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := sonic.ConfigStd.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case c == '-' || (c >= '0' && c <= '9'):
		return string(raw), true
	default:
		return "", false
	}
}
