package simulation

import "fmt"

// defaultForkURLs are public endpoints used when no fork url is configured.
var defaultForkURLs = map[uint64]string{
	// ethereum
	1:        "https://eth.drpc.org",
	5:        "https://eth-goerli.g.alchemy.com/v2/demo",
	11155111: "https://eth-sepolia.g.alchemy.com/v2/demo",
	// polygon
	137:   "https://polygon-mainnet.g.alchemy.com/v2/demo",
	80001: "https://polygon-mumbai.g.alchemy.com/v2/demo",
	// avalanche
	43114: "https://api.avax.network/ext/bc/C/rpc",
	43113: "https://api.avax-test.network/ext/bc/C/rpc",
	// fantom
	250:  "https://rpcapi.fantom.network/",
	4002: "https://rpc.testnet.fantom.network/",
	// gnosis
	100: "https://rpc.xdaichain.com/",
	// bsc
	56: "https://bsc-dataseed.binance.org/",
	97: "https://data-seed-prebsc-1-s1.binance.org:8545/",
	// arbitrum
	42161:  "https://arb1.arbitrum.io/rpc",
	421613: "https://goerli-rollup.arbitrum.io/rpc",
	// optimism
	10:  "https://mainnet.optimism.io/",
	420: "https://goerli.optimism.io/",
}

// DefaultForkURL returns the built-in endpoint of a chain.
func DefaultForkURL(chainID uint64) (string, error) {
	if url, ok := defaultForkURLs[chainID]; ok {
		return url, nil
	}
	return "", fmt.Errorf("%w %d", ErrNoURLForChainID, chainID)
}
