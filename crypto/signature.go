package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an r||s||v signature.
const SignatureLength = 65

const recoveryIDOffset = 27

// NormalizeSignature returns a copy of sig whose recovery id uses the 27/28
// convention. Some signing toolchains (ganache, go-ethereum's crypto.Sign)
// emit 0/1 instead; both are accepted.
func NormalizeSignature(sig []byte) ([]byte, error) {
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	out := append([]byte(nil), sig...)
	if out[64] < recoveryIDOffset {
		out[64] += recoveryIDOffset
	}
	if out[64] != 27 && out[64] != 28 {
		return nil, fmt.Errorf("invalid recovery id %d", sig[64])
	}
	return out, nil
}

// MessageHash applies the "\x19Ethereum Signed Message:\n32" prefix used by
// eth_sign to a 32-byte digest.
func MessageHash(hash common.Hash) []byte {
	return accounts.TextHash(hash.Bytes())
}

// RecoverSigner returns the identity that produced sig over the eth_sign
// prefixed form of hash. The boolean is false when the signature is malformed
// or recovery fails; no error is surfaced so callers can treat every failure
// as "no match".
func RecoverSigner(hash common.Hash, sig []byte) (common.Address, bool) {
	normalized, err := NormalizeSignature(sig)
	if err != nil {
		return common.Address{}, false
	}
	normalized[64] -= recoveryIDOffset
	if !crypto.ValidateSignatureValues(normalized[64], new(big.Int).SetBytes(normalized[:32]), new(big.Int).SetBytes(normalized[32:64]), true) {
		return common.Address{}, false
	}
	pub, err := crypto.SigToPub(MessageHash(hash), normalized)
	if err != nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(*pub), true
}

// SignHash produces an eth_sign style signature over hash with v in {27,28}.
func SignHash(key *PrivateKey, hash common.Hash) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, fmt.Errorf("signing key required")
	}
	sig, err := crypto.Sign(MessageHash(hash), key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig[64] += recoveryIDOffset
	return sig, nil
}
