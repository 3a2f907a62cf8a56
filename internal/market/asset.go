package market

import (
	"fmt"
	"strings"
)

// Asset identifies one of the two supported underlying pools. The value is
// the CoinGecko coin id, which the spot endpoint keys its response by.
type Asset string

const (
	Ethereum Asset = "ethereum"
	Bitcoin  Asset = "bitcoin"
)

// ParseAsset maps a user-supplied asset name onto a supported Asset.
func ParseAsset(s string) (Asset, error) {
	switch Asset(strings.ToLower(strings.TrimSpace(s))) {
	case Ethereum:
		return Ethereum, nil
	case Bitcoin:
		return Bitcoin, nil
	default:
		return "", fmt.Errorf("unsupported asset %q (choose bitcoin or ethereum)", s)
	}
}

// Ticker returns the on-chain symbol option records carry for this asset.
// Bitcoin options in the pool are written against wrapped BTC.
func (a Asset) Ticker() string {
	if a == Bitcoin {
		return "WBTC"
	}
	return "ETH"
}

func (a Asset) String() string { return string(a) }
