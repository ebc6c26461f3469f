package earnings

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"earnescrow/crypto"
)

// encodedClaimLength is address(20) + uint128(16) + uint128(16) +
// address(20) + address(20) + uint256(32).
const encodedClaimLength = 124

// EncodeClaim returns the tightly packed encoding of the claim bound to the
// escrow instance. Fields are laid out as escrow, nonce, parentNonce, wallet,
// asset and quantity, matching solidityKeccak256 over the same types.
func EncodeClaim(escrow common.Address, claim Claim) []byte {
	out := make([]byte, 0, encodedClaimLength)
	out = append(out, escrow.Bytes()...)
	out = append(out, claim.Nonce[:]...)
	out = append(out, claim.ParentNonce[:]...)
	out = append(out, claim.Wallet.Bytes()...)
	out = append(out, claim.Asset.Bytes()...)
	var quantity [32]byte
	if claim.Quantity != nil {
		quantity = claim.Quantity.Bytes32()
	}
	return append(out, quantity[:]...)
}

// ClaimHash is the keccak256 digest the exchange signs.
func ClaimHash(escrow common.Address, claim Claim) common.Hash {
	return ethcrypto.Keccak256Hash(EncodeClaim(escrow, claim))
}

// SignClaim signs the claim hash with key in eth_sign form.
func SignClaim(key *crypto.PrivateKey, escrow common.Address, claim Claim) (SignedClaim, error) {
	sig, err := crypto.SignHash(key, ClaimHash(escrow, claim))
	if err != nil {
		return SignedClaim{}, fmt.Errorf("sign claim: %w", err)
	}
	return SignedClaim{Claim: claim, Signature: sig}, nil
}

// VerifyClaim reports whether sc was signed by exchange. A zero exchange never
// verifies.
func VerifyClaim(escrow, exchange common.Address, sc SignedClaim) bool {
	if exchange == (common.Address{}) {
		return false
	}
	signer, ok := crypto.RecoverSigner(ClaimHash(escrow, sc.Claim), sc.Signature)
	return ok && signer == exchange
}
