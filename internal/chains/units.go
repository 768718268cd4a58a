package chains

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimal places of the smallest unit of each chain's native coin.
const (
	SunPerTRX     int32 = 6  // 1 TRX = 10^6 sun
	WeiPerEther   int32 = 18 // 1 ETH/BNB = 10^18 wei
	SatoshiPerBTC int32 = 8  // 1 BTC = 10^8 satoshi
)

// FromSmallestUnit converts an integer amount of base units into coin units.
func FromSmallestUnit(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// SunToTRX converts sun to TRX. TRC20 USDT uses the same 6 decimals.
func SunToTRX(sun *big.Int) decimal.Decimal {
	return FromSmallestUnit(sun, SunPerTRX)
}

// WeiToEther converts wei to ether (or BNB on BSC).
func WeiToEther(wei *big.Int) decimal.Decimal {
	return FromSmallestUnit(wei, WeiPerEther)
}

// SatoshiToBTC converts satoshi to BTC.
func SatoshiToBTC(sats int64) decimal.Decimal {
	return decimal.New(sats, -SatoshiPerBTC)
}
