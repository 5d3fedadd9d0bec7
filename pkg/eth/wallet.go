// Package eth provides wallet, address and signing utilities for Injective accounts.
package eth

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// InjectivePrefix is the bech32 human-readable part of Injective account addresses.
const InjectivePrefix = "inj"

// DefaultSubaccountIndex is the index of the subaccount used when none is given.
const DefaultSubaccountIndex = 0

// Wallet wraps a secp256k1 private key. Injective accounts share the
// Ethereum key derivation, so the same 20-byte address backs both the
// 0x and the inj1 forms.
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	injAddress string
}

// NewWallet creates a wallet from a hex-encoded private key.
func NewWallet(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	addr := crypto.PubkeyToAddress(key.PublicKey)

	injAddr, err := InjectiveAddress(addr)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		privateKey: key,
		address:    addr,
		injAddress: injAddr,
	}, nil
}

// GenerateWallet creates a wallet with a fresh random key. Paper trading
// uses it when no key is configured.
func GenerateWallet() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewWallet(hex.EncodeToString(crypto.FromECDSA(key)))
}

// Address returns the wallet's Ethereum-style address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// AddressHex returns the wallet address as a checksummed hex string.
func (w *Wallet) AddressHex() string {
	return w.address.Hex()
}

// InjectiveAddress returns the bech32 inj1... form of the wallet address.
func (w *Wallet) InjectiveAddress() string {
	return w.injAddress
}

// PrivateKey returns the underlying ECDSA private key.
func (w *Wallet) PrivateKey() *ecdsa.PrivateKey {
	return w.privateKey
}

// PublicKeyHex returns the 33-byte compressed public key as 0x-prefixed hex.
func (w *Wallet) PublicKeyHex() string {
	return fmt.Sprintf("0x%x", crypto.CompressPubkey(&w.privateKey.PublicKey))
}

// SubaccountID derives the subaccount id for the given index.
func (w *Wallet) SubaccountID(index uint32) string {
	return SubaccountID(w.address, index)
}

// DefaultSubaccountID returns the subaccount id at index 0.
func (w *Wallet) DefaultSubaccountID() string {
	return SubaccountID(w.address, DefaultSubaccountIndex)
}

// SignHash signs a 32-byte hash and returns the 65-byte signature.
func (w *Wallet) SignHash(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign hash: %w", err)
	}
	// Adjust V value from 0/1 to 27/28
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SubaccountID is the lowercase hex address followed by the index as
// a 24-digit hex number, 0x-prefixed (66 characters total).
func SubaccountID(addr common.Address, index uint32) string {
	return fmt.Sprintf("0x%x%024x", addr.Bytes(), index)
}

// InjectiveAddress encodes a 20-byte address as bech32 with the inj prefix.
func InjectiveAddress(addr common.Address) (string, error) {
	conv, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert address bits: %w", err)
	}
	out, err := bech32.Encode(InjectivePrefix, conv)
	if err != nil {
		return "", fmt.Errorf("bech32 encode: %w", err)
	}
	return out, nil
}

// ParseInjectiveAddress decodes an inj1... address back to its 20 bytes.
func ParseInjectiveAddress(s string) (common.Address, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("bech32 decode: %w", err)
	}
	if hrp != InjectivePrefix {
		return common.Address{}, fmt.Errorf("unexpected address prefix %q", hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return common.Address{}, fmt.Errorf("convert address bits: %w", err)
	}
	if len(raw) != common.AddressLength {
		return common.Address{}, fmt.Errorf("address length %d, want %d", len(raw), common.AddressLength)
	}
	return common.BytesToAddress(raw), nil
}
