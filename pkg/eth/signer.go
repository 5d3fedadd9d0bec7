package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain values mixed into every relay signature.
const (
	RelayDomainName    = "InjectiveRelay"
	RelayDomainVersion = "1"
)

// Signer produces chain-bound signatures over serialized transaction payloads.
type Signer struct {
	wallet *Wallet
}

// NewSigner creates a new payload signer.
func NewSigner(wallet *Wallet) *Signer {
	return &Signer{wallet: wallet}
}

// Sign returns the 0x-encoded 65-byte signature of payload for chainID.
func (s *Signer) Sign(chainID string, payload []byte) (string, error) {
	digest := Digest(chainID, payload)

	sig, err := s.wallet.SignHash(digest.Bytes())
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}

	return hexutil.Encode(sig), nil
}

// Digest computes keccak256(0x19 0x01 ++ domain ++ keccak256(payload)).
func Digest(chainID string, payload []byte) common.Hash {
	domainSep := hashRelayDomain(chainID)
	msgHash := crypto.Keccak256Hash(payload)

	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		domainSep.Bytes(),
		msgHash.Bytes(),
	)
}

// RecoverSigner returns the address that produced sigHex over payload.
func RecoverSigner(chainID string, payload []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d, want %d", len(sig), crypto.SignatureLength)
	}

	// Undo the 27/28 V offset applied by SignHash
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(Digest(chainID, payload).Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// hashRelayDomain hashes the domain name, version and the string chain id.
func hashRelayDomain(chainID string) common.Hash {
	typeHash := crypto.Keccak256Hash([]byte(
		"RelayDomain(string name,string version,string chainId)"))

	return crypto.Keccak256Hash(
		typeHash.Bytes(),
		crypto.Keccak256([]byte(RelayDomainName)),
		crypto.Keccak256([]byte(RelayDomainVersion)),
		crypto.Keccak256([]byte(chainID)),
	)
}
