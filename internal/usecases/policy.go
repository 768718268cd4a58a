package usecases

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
)

// FallbackConfirmations is required for networks missing from the table.
const FallbackConfirmations uint64 = 6

// DefaultConfirmationThresholds reflects the reorg risk of each network.
var DefaultConfirmationThresholds = map[entities.Network]uint64{
	entities.NetworkTRC20:   19,
	entities.NetworkERC20:   12,
	entities.NetworkBEP20:   15,
	entities.NetworkBitcoin: 6,
}

// Policy maps a network to the confirmations needed before a payment is trusted.
// It is immutable after construction and safe for concurrent use.
type Policy struct {
	thresholds map[entities.Network]uint64
}

// NewPolicy starts from the defaults and applies operator overrides keyed by network name.
func NewPolicy(overrides map[string]uint64) *Policy {
	thresholds := maps.Clone(DefaultConfirmationThresholds)
	for name, required := range overrides {
		thresholds[entities.ParseNetwork(name)] = required
	}
	return &Policy{thresholds: thresholds}
}

// Required returns the threshold for network, or FallbackConfirmations when it is unknown.
func (p *Policy) Required(network entities.Network) uint64 {
	if required, ok := p.thresholds[network]; ok {
		return required
	}
	return FallbackConfirmations
}

// Networks lists the networks with an explicit threshold in stable order.
func (p *Policy) Networks() []entities.Network {
	networks := maps.Keys(p.thresholds)
	slices.Sort(networks)
	return networks
}
