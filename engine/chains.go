package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// chainConfig picks the fork schedule used to execute against a chain.
// Chains without a known schedule run with every fork activated, which is
// what current L2s and sidechains expose to contracts.
func chainConfig(chainID uint64) *params.ChainConfig {
	switch chainID {
	case params.MainnetChainConfig.ChainID.Uint64():
		return params.MainnetChainConfig
	case params.SepoliaChainConfig.ChainID.Uint64():
		return params.SepoliaChainConfig
	case params.HoleskyChainConfig.ChainID.Uint64():
		return params.HoleskyChainConfig
	}
	cfg := *params.AllDevChainProtocolChanges
	cfg.ChainID = new(big.Int).SetUint64(chainID)
	return &cfg
}
