package market

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches exchange tickers: up to 10 upper-case letters, optionally
// with a single class suffix. Examples: AAPL, BRK.B
var symbolRegex = regexp.MustCompile(`^[A-Z]{1,10}(\.[A-Z])?$`)

var ErrInvalidTicker = errors.New("market: invalid ticker format")

// ParseSymbol normalises a user-supplied ticker (trim, upper-case) and
// validates its shape. It does not check whether the symbol is tradable.
func ParseSymbol(raw string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, raw)
	}
	return sym, nil
}
