package risk

import "sort"

// ChainConfig holds the static risk parameters of a supported chain.
type ChainConfig struct {
	ChainID           string  `json:"chain_id"`
	Name              string  `json:"name"`
	NativeToken       string  `json:"native_token"`
	LTVBaseMultiplier float64 `json:"ltv_base_multiplier"`
	MinHealthFactor   float64 `json:"min_health_factor"`
}

var chainConfigs = map[string]ChainConfig{
	"ethereum":  {ChainID: "ethereum", Name: "Ethereum", NativeToken: "ETH", LTVBaseMultiplier: 1.0, MinHealthFactor: 1.2},
	"polygon":   {ChainID: "polygon", Name: "Polygon", NativeToken: "MATIC", LTVBaseMultiplier: 0.9, MinHealthFactor: 1.3},
	"arbitrum":  {ChainID: "arbitrum", Name: "Arbitrum One", NativeToken: "ETH", LTVBaseMultiplier: 0.95, MinHealthFactor: 1.25},
	"optimism":  {ChainID: "optimism", Name: "Optimism", NativeToken: "ETH", LTVBaseMultiplier: 0.95, MinHealthFactor: 1.25},
	"base":      {ChainID: "base", Name: "Base", NativeToken: "ETH", LTVBaseMultiplier: 0.95, MinHealthFactor: 1.25},
	"avalanche": {ChainID: "avalanche", Name: "Avalanche C-Chain", NativeToken: "AVAX", LTVBaseMultiplier: 0.9, MinHealthFactor: 1.3},
	"near":      {ChainID: "near", Name: "NEAR Protocol", NativeToken: "NEAR", LTVBaseMultiplier: 0.85, MinHealthFactor: 1.4},
}

// GetChainConfig looks up a chain. Unknown ids return ErrUnsupportedChain.
func GetChainConfig(chainID string) (ChainConfig, error) {
	cfg, ok := chainConfigs[chainID]
	if !ok {
		return ChainConfig{}, ErrUnsupportedChain.Explain("chain %q is not supported", chainID)
	}
	return cfg, nil
}

// SupportedChains returns the supported chain ids in lexical order.
func SupportedChains() []string {
	ids := make([]string, 0, len(chainConfigs))
	for id := range chainConfigs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
