package derivative

import (
	"fmt"
	"strings"
)

// OrderType is the chain's derivative order type code.
type OrderType int

const (
	OrderTypeBuy      OrderType = 1
	OrderTypeSell     OrderType = 2
	OrderTypeStopBuy  OrderType = 3
	OrderTypeStopSell OrderType = 4
	OrderTypeTakeBuy  OrderType = 5
	OrderTypeTakeSell OrderType = 6
	OrderTypeBuyPO    OrderType = 7
	OrderTypeSellPO   OrderType = 8
)

var orderTypeNames = map[OrderType]string{
	OrderTypeBuy:      "BUY",
	OrderTypeSell:     "SELL",
	OrderTypeStopBuy:  "STOP_BUY",
	OrderTypeStopSell: "STOP_SELL",
	OrderTypeTakeBuy:  "TAKE_BUY",
	OrderTypeTakeSell: "TAKE_SELL",
	OrderTypeBuyPO:    "BUY_PO",
	OrderTypeSellPO:   "SELL_PO",
}

// Valid reports whether t is one of the eight known codes.
func (t OrderType) Valid() bool {
	_, ok := orderTypeNames[t]
	return ok
}

// IsBuy reports whether t opens or extends a long exposure.
// Odd codes are buys, even codes are sells.
func (t OrderType) IsBuy() bool {
	return t.Valid() && int(t)%2 == 1
}

// IsConditional reports whether t needs a trigger price.
func (t OrderType) IsConditional() bool {
	return t >= OrderTypeStopBuy && t <= OrderTypeTakeSell
}

func (t OrderType) String() string {
	if name, ok := orderTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(t))
}

// ParseOrderType accepts either a numeric code or a name such as "STOP_BUY".
func ParseOrderType(s string) (OrderType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for t, name := range orderTypeNames {
		if name == s || fmt.Sprint(int(t)) == s {
			return t, nil
		}
	}
	return 0, validationf("invalid order type %q", s)
}

func checkOrderType(t OrderType) error {
	if !t.Valid() {
		return validationf("invalid order type %d: must be between 1 and 8", int(t))
	}
	return nil
}

// Direction is a position side as reported by the indexer.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// ParseDirection maps buy/long to long and sell/short to short.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return DirectionLong, nil
	case "sell", "short":
		return DirectionShort, nil
	default:
		return "", validationf("invalid direction %q: must be buy, sell, long or short", s)
	}
}
