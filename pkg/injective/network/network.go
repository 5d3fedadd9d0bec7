// Package network describes the Injective networks an agent can trade on.
package network

import (
	"fmt"
	"strings"
)

// Network selects between Injective mainnet and testnet.
type Network string

const (
	Mainnet Network = "MAINNET"
	Testnet Network = "TESTNET"
)

// Chain ids.
const (
	ChainIDMainnet = "injective-1"
	ChainIDTestnet = "injective-888"
)

// Default indexer (exchange API) endpoints.
const (
	DefaultMainnetIndexer = "https://sentry.exchange.grpc-web.injective.network"
	DefaultTestnetIndexer = "https://k8s.testnet.exchange.grpc-web.injective.network"
)

// Endpoints holds the base URLs used to reach a network.
type Endpoints struct {
	Indexer string `mapstructure:"indexer" json:"indexer"`
	Relay   string `mapstructure:"relay" json:"relay"`
}

// All lists the supported networks.
func All() []Network {
	return []Network{Mainnet, Testnet}
}

// Parse reads a network name case-insensitively. Empty input means mainnet.
func Parse(s string) (Network, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(Mainnet):
		return Mainnet, nil
	case string(Testnet):
		return Testnet, nil
	default:
		return "", fmt.Errorf("unknown network %q (want MAINNET or TESTNET)", s)
	}
}

// IsTestnet reports whether n is the test network.
func (n Network) IsTestnet() bool {
	return n == Testnet
}

// ChainID returns the Cosmos chain id for n.
func (n Network) ChainID() string {
	if n.IsTestnet() {
		return ChainIDTestnet
	}
	return ChainIDMainnet
}

// DefaultEndpoints returns the public endpoints for n. There is no public
// relay, so Relay is left empty.
func (n Network) DefaultEndpoints() Endpoints {
	if n.IsTestnet() {
		return Endpoints{Indexer: DefaultTestnetIndexer}
	}
	return Endpoints{Indexer: DefaultMainnetIndexer}
}

func (n Network) String() string {
	return string(n)
}
