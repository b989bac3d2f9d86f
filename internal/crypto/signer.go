// Package crypto provides actor signatures (EIP-191 personal messages) and
// HMAC request authentication for the estate market API.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// Signer produces EIP-191 signatures for API requests on behalf of one actor.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs the canonical request message and returns a hex-encoded
// 65-byte signature (r || s || v) with v in {27,28}.
func (s *Signer) SignRequest(method, path string, unixTS int64, body []byte) (string, error) {
	digest := accounts.TextHash(RequestMessage(method, path, unixTS, body))
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets use {27,28}.
	sig[64] += 27

	return "0x" + hex.EncodeToString(sig), nil
}

// RequestMessage is the byte string an actor signs to authorize a request:
//
//	METHOD \n PATH \n TIMESTAMP \n keccak256(body)
func RequestMessage(method, path string, unixTS int64, body []byte) []byte {
	return []byte(strings.ToUpper(method) + "\n" + path + "\n" +
		strconv.FormatInt(unixTS, 10) + "\n" + ethcrypto.Keccak256Hash(body).Hex())
}

// RecoverAddress returns the address whose key produced sigHex over the
// EIP-191 hash of msg. Malformed signatures return domain.ErrBadSignature.
func RecoverAddress(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: malformed signature", domain.ErrBadSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id", domain.ErrBadSignature)
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, errors.Join(domain.ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that sigHex is claimed's signature over the request.
func VerifyRequest(claimed common.Address, method, path string, unixTS int64, body []byte, sigHex string) error {
	got, err := RecoverAddress(RequestMessage(method, path, unixTS, body), sigHex)
	if err != nil {
		return err
	}
	if got != claimed {
		return fmt.Errorf("%w: signed by %s, not %s", domain.ErrBadSignature, got.Hex(), claimed.Hex())
	}
	return nil
}
