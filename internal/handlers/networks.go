package handlers

import (
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
	"github.com/sand/crypto-payment-verifier/backend/internal/usecases"
)

// NetworkCatalog describes which networks the service verifies and with what thresholds.
type NetworkCatalog interface {
	SupportedNetworks() []entities.Network
	Policy() *usecases.Policy
}
