/*
factory.go - Allocation strategy resolution by name

PURPOSE:
  Strategies are referenced by name in configuration and persisted on
  cost history entries, so provenance survives restarts and strategy
  swaps. This file is the single place that maps names to strategies.
*/
package allocation

import (
	"fmt"

	"github.com/warp/trade-core/trading"
)

const (
	PolicyUniform       = "uniform"
	PolicyValueWeighted = "value-weighted"
)

// ByName resolves an allocation strategy. An empty name resolves to the
// approval-time default (uniform).
func ByName(name string) (AllocationPolicy, error) {
	switch name {
	case "", PolicyUniform:
		return Uniform{}, nil
	case PolicyValueWeighted:
		return ValueWeighted{}, nil
	default:
		return nil, &trading.ValidationError{
			Field:   "policy",
			Message: fmt.Sprintf("unknown allocation policy %q", name),
		}
	}
}
