package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Cooldown records the last admitted swap of a trading address.
type Cooldown struct {
	Address      common.Address `json:"address"`
	LastSwapTime time.Time      `json:"last_swap_time"`
}
