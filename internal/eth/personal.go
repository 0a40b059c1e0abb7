// Package eth holds the Ethereum signature primitives used to authenticate wallets.
package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrSignatureLength is returned when a signature is not 65 bytes
	ErrSignatureLength = errors.New("signature must be 65 bytes")

	// ErrRecoveryID is returned when the signature V value is not 0, 1, 27 or 28
	ErrRecoveryID = errors.New("invalid signature recovery id")
)

// RecoverPersonal returns the address that signed message with personal_sign (EIP-191)
func RecoverPersonal(message, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, ErrSignatureLength
	}

	// Wallets emit V as 27/28; go-ethereum expects 0/1
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, ErrRecoveryID
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverPersonalHex is RecoverPersonal for a 0x-prefixed hex signature
func RecoverPersonalHex(message []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", err)
	}
	return RecoverPersonal(message, sig)
}

// SignPersonal signs message the way a wallet's personal_sign does, with V in 27/28 form
func SignPersonal(message []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
