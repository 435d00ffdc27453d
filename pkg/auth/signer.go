package auth

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/parimutuel/pkg/types"
)

// Signer adds signature headers to outgoing requests.
type Signer struct {
	key     *ecdsa.PrivateKey
	address types.Identity
}

// NewSigner parses a hex private key, with or without 0x.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{key: key, address: types.NormalizeIdentity(crypto.PubkeyToAddress(key.PublicKey).Hex())}, nil
}

// Address returns the identity requests are signed as.
func (s *Signer) Address() types.Identity {
	return s.address
}

// Sign sets the identity, timestamp and signature headers on r for body.
func (s *Signer) Sign(r *http.Request, body []byte, now time.Time) error {
	ts := now.Unix()
	hash := accounts.TextHash(Message(r.Method, r.URL.Path, ts, body))
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	r.Header.Set(HeaderIdentity, s.address.String())
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(HeaderSignature, hexutil.Encode(sig))
	return nil
}

// GenerateKey returns a fresh private key as hex and its address.
func GenerateKey() (string, types.Identity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	return hexutil.Encode(crypto.FromECDSA(key)), types.NormalizeIdentity(crypto.PubkeyToAddress(key.PublicKey).Hex()), nil
}
