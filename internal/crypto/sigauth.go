package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Callers of the public API identify themselves by signing each request with
// their secp256k1 key. The server recovers the signer address from the
// signature; that address is the caller identity every ownership check
// (seller, credit receiver) is enforced against, so no account can act on
// another account's behalf.

// requestDomain separates request signatures from any other message the same
// key might sign.
const requestDomain = "gavel-request-v1"

// RequestDigest computes the 32-byte digest a caller signs for a request:
// keccak256(domain \n timestamp \n METHOD \n path \n hex(sha256(body))).
func RequestDigest(timestamp, method, path string, body []byte) []byte {
	bodyHash := sha256.Sum256(body)
	msg := strings.Join([]string{
		requestDomain,
		timestamp,
		strings.ToUpper(method),
		path,
		hex.EncodeToString(bodyHash[:]),
	}, "\n")
	return ethcrypto.Keccak256([]byte(msg))
}

// SignRequest signs a request digest with a hex-encoded private key and
// returns the 65-byte [R || S || V] signature hex-encoded. Used by clients
// and tests; the server only verifies.
func SignRequest(privateKeyHex, timestamp, method, path string, body []byte) (string, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto: invalid private key: %w", err)
	}

	sig, err := ethcrypto.Sign(RequestDigest(timestamp, method, path, body), pk)
	if err != nil {
		return "", fmt.Errorf("crypto: sign request: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// RecoverAccount recovers the signer address from a request signature
// produced by SignRequest. It returns the checksummed hex address.
func RecoverAccount(signatureHex, timestamp, method, path string, body []byte) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto: decoding signature: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("crypto: expected 65-byte signature, got %d bytes", len(sig))
	}

	// Normalise V from 27/28 to 0/1 if the client used the legacy encoding.
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	pub, err := ethcrypto.SigToPub(RequestDigest(timestamp, method, path, body), sig)
	if err != nil {
		return "", fmt.Errorf("crypto: recovering signer: %w", err)
	}

	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// AddressForKey returns the checksummed address for a hex-encoded private
// key. Convenience for tooling and tests.
func AddressForKey(privateKeyHex string) (string, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto: invalid private key: %w", err)
	}
	var addr common.Address = ethcrypto.PubkeyToAddress(pk.PublicKey)
	return addr.Hex(), nil
}
