package shared

import (
	"os"
	"strings"
)

const EnvBlockchainDebugMode = "BLOCKCHAIN_DEBUG_MODE"

// Public explorer endpoints used when the configuration leaves the URL empty.
const (
	TronGridMainnetURL  = "https://api.trongrid.io"
	TronGridTestnetURL  = "https://api.shasta.trongrid.io"
	EtherscanMainnetURL = "https://api.etherscan.io/api"
	EtherscanTestnetURL = "https://api-sepolia.etherscan.io/api"
	BscScanMainnetURL   = "https://api.bscscan.com/api"
	BscScanTestnetURL   = "https://api-testnet.bscscan.com/api"
	EsploraMainnetURL   = "https://blockstream.info/api"
	EsploraTestnetURL   = "https://blockstream.info/testnet/api"
)

// IsBlockchainDebugMode checks if blockchain debug mode is enabled via environment variable
func IsBlockchainDebugMode() bool {
	debugMode := os.Getenv(EnvBlockchainDebugMode)
	return strings.ToLower(debugMode) == "true" || strings.ToLower(debugMode) == "1"
}

// PickURL returns configured when set, otherwise the testnet or mainnet default depending on debug mode.
func PickURL(configured, mainnet, testnet string) string {
	if configured != "" {
		return strings.TrimRight(configured, "/")
	}
	if IsBlockchainDebugMode() {
		return testnet
	}
	return mainnet
}
