package chains

import (
	"log/slog"

	"github.com/sand/crypto-payment-verifier/backend/config"
	"github.com/sand/crypto-payment-verifier/backend/internal/core/ports"
	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
	"github.com/sand/crypto-payment-verifier/backend/internal/shared"
)

// Token decimals used when the configuration does not set them: USDT on Ethereum, BSC-USD on BSC.
const (
	defaultERC20Decimals int32 = 6
	defaultBEP20Decimals int32 = 18
)

// Token contracts accepted when the configuration lists none.
var (
	defaultTRC20Contracts = []string{"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"}
	defaultERC20Contracts = []string{"0xdAC17F958D2ee523a2206206994597C13D831ec7"}
	defaultBEP20Contracts = []string{"0x55d398326f99059fF775485246999027B3197955"}
)

var (
	_ ports.ChainAdapter = (*TronAdapter)(nil)
	_ ports.ChainAdapter = (*EVMAdapter)(nil)
	_ ports.ChainAdapter = (*BitcoinAdapter)(nil)
)

// NewAdapters builds one adapter per supported network from the explorer configuration.
func NewAdapters(logger *slog.Logger, cfg config.Explorers) []ports.ChainAdapter {
	tron := cfg.Tron
	if len(tron.TokenContracts) == 0 {
		tron.TokenContracts = defaultTRC20Contracts
	}

	ethereum := cfg.Ethereum
	if ethereum.TokenDecimals == 0 {
		ethereum.TokenDecimals = defaultERC20Decimals
	}
	if len(ethereum.TokenContracts) == 0 {
		ethereum.TokenContracts = defaultERC20Contracts
	}

	bsc := cfg.BSC
	if bsc.TokenDecimals == 0 {
		bsc.TokenDecimals = defaultBEP20Decimals
	}
	if len(bsc.TokenContracts) == 0 {
		bsc.TokenContracts = defaultBEP20Contracts
	}

	adapters := []ports.ChainAdapter{
		NewTronAdapter(logger,
			shared.PickURL(tron.URL, shared.TronGridMainnetURL, shared.TronGridTestnetURL), tron),
		NewEVMAdapter(logger, entities.NetworkERC20,
			shared.PickURL(ethereum.URL, shared.EtherscanMainnetURL, shared.EtherscanTestnetURL), ethereum),
		NewEVMAdapter(logger, entities.NetworkBEP20,
			shared.PickURL(bsc.URL, shared.BscScanMainnetURL, shared.BscScanTestnetURL), bsc),
		NewBitcoinAdapter(logger,
			shared.PickURL(cfg.Bitcoin.URL, shared.EsploraMainnetURL, shared.EsploraTestnetURL), cfg.Bitcoin),
	}

	for _, adapter := range adapters {
		logger.Info("Chain adapter initialized", "network", adapter.Network())
	}

	return adapters
}
