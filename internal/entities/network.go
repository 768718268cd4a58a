package entities

import "strings"

// Network identifies a supported payment network.
type Network string

const (
	NetworkTRC20   Network = "TRC20"
	NetworkERC20   Network = "ERC20"
	NetworkBEP20   Network = "BEP20"
	NetworkBitcoin Network = "BITCOIN"
)

// ParseNetwork normalizes caller input; it does not check support.
func ParseNetwork(s string) Network {
	return Network(strings.ToUpper(strings.TrimSpace(s)))
}

func (n Network) String() string {
	return string(n)
}
