package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request authentication headers.
const (
	HeaderAddress   = "X-Market-Address"
	HeaderTimestamp = "X-Market-Timestamp"
	HeaderSignature = "X-Market-Signature"
)

var ErrBadSignature = errors.New("crypto: malformed signature")

// Signer signs API requests with a secp256k1 key using EIP-191 personal
// messages.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key, with or without
// the 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the account that signs with this key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs the canonical request message and returns the 65-byte
// signature hex-encoded with v in {27,28}.
func (s *Signer) SignRequest(unixTS int64, method, path string, body []byte) (string, error) {
	sig, err := ethcrypto.Sign(RequestDigest(unixTS, method, path, body), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Headers returns the authentication headers for a request sent at now.
func (s *Signer) Headers(now time.Time, method, path string, body []byte) (map[string]string, error) {
	ts := now.Unix()
	sig, err := s.SignRequest(ts, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
		HeaderSignature: sig,
	}, nil
}

// RequestMessage is the text a client signs:
//
//	<unix seconds>|<METHOD>|<path>|<hex sha256 of body>
func RequestMessage(unixTS int64, method, path string, body []byte) string {
	sum := sha256.Sum256(body)
	return strconv.FormatInt(unixTS, 10) + "|" + strings.ToUpper(method) + "|" + path + "|" + hex.EncodeToString(sum[:])
}

// RequestDigest is the EIP-191 hash of RequestMessage.
func RequestDigest(unixTS int64, method, path string, body []byte) []byte {
	return accounts.TextHash([]byte(RequestMessage(unixTS, method, path, body)))
}

// RecoverRequest returns the account that produced sigHex over the request.
func RecoverRequest(sigHex string, unixTS int64, method, path string, body []byte) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := ethcrypto.SigToPub(RequestDigest(unixTS, method, path, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
