package model

import (
	"fmt"
	"strings"
)

// Direction names the side a swap sells.
type Direction uint8

const (
	CreatorToSettlement Direction = iota + 1
	SettlementToCreator
)

func (d Direction) Valid() bool {
	return d == CreatorToSettlement || d == SettlementToCreator
}

func (d Direction) String() string {
	switch d {
	case CreatorToSettlement:
		return "creator_to_settlement"
	case SettlementToCreator:
		return "settlement_to_creator"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ParseDirection accepts the canonical names plus the short forms "sell"
// (creator in) and "buy" (settlement in).
func ParseDirection(value string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "creator_to_settlement", "c2s", "sell":
		return CreatorToSettlement, nil
	case "settlement_to_creator", "s2c", "buy":
		return SettlementToCreator, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", value)
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid direction %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(data []byte) error {
	parsed, err := ParseDirection(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
