package order

import (
	"strconv"
	"strings"
)

type Kind int
type Venue int
type Side int

const (
	Market Kind = iota
	Limit
)

const (
	BSE Venue = iota
	NSE
)

const (
	Buy Side = iota
	Sell
)

func (k Kind) String() string {
	switch k {
	case Market:
		return "MARKET"
	case Limit:
		return "LIMIT"
	default:
		return "KIND(" + strconv.Itoa(int(k)) + ")"
	}
}

func (v Venue) String() string {
	switch v {
	case BSE:
		return "BSE"
	case NSE:
		return "NSE"
	default:
		return "UNKNOWN"
	}
}

func (v Venue) Valid() bool {
	return v == BSE || v == NSE
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ParseKind maps "market"/"limit" (any case) to a Kind. Kinds without a
// name round-trip through their "KIND(n)" form, so a strategy registered
// for an extra kind is reachable from text as well.
func ParseKind(s string) (Kind, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	switch up {
	case "MARKET":
		return Market, nil
	case "LIMIT":
		return Limit, nil
	}
	if inner, ok := strings.CutPrefix(up, "KIND("); ok {
		if n, ok := strings.CutSuffix(inner, ")"); ok {
			if k, err := strconv.Atoi(n); err == nil && k >= 0 {
				return Kind(k), nil
			}
		}
	}
	return 0, invalid("kind", "unknown order kind %q", s)
}

func ParseVenue(s string) (Venue, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BSE":
		return BSE, nil
	case "NSE":
		return NSE, nil
	}
	return 0, invalid("venue", "unknown venue %q", s)
}

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return 0, invalid("side", "unknown side %q", s)
}
