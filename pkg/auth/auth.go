// Package auth resolves the identity behind an API request.
//
// Requests are signed with an Ethereum key: the client signs
//
//	METHOD \n PATH \n UNIX_SECONDS \n keccak256(body)
//
// as an EIP-191 personal message and sends the address, timestamp and signature
// in the X-Identity, X-Timestamp and X-Signature headers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mselser95/parimutuel/pkg/clock"
	"github.com/mselser95/parimutuel/pkg/types"
)

const (
	HeaderIdentity  = "X-Identity"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// Verifier turns a request into the identity it is authorized as.
type Verifier interface {
	Verify(r *http.Request, body []byte) (types.Identity, error)
}

// Message builds the bytes a client signs for a request.
func Message(method, path string, unixSeconds int64, body []byte) []byte {
	return []byte(fmt.Sprintf("%s\n%s\n%d\n%s",
		strings.ToUpper(method), path, unixSeconds, hexutil.Encode(crypto.Keccak256(body))))
}

// SignatureVerifier checks secp256k1 signatures over Message.
type SignatureVerifier struct {
	maxSkew time.Duration
	clock   clock.Clock
}

// NewSignatureVerifier rejects timestamps further than maxSkew from now.
func NewSignatureVerifier(maxSkew time.Duration, c clock.Clock) *SignatureVerifier {
	if c == nil {
		c = clock.System{}
	}
	return &SignatureVerifier{maxSkew: maxSkew, clock: c}
}

func (v *SignatureVerifier) Verify(r *http.Request, body []byte) (types.Identity, error) {
	identity := types.NormalizeIdentity(r.Header.Get(HeaderIdentity))
	if identity == "" {
		return "", fmt.Errorf("%w: missing %s header", types.ErrUnauthorized, HeaderIdentity)
	}

	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad %s header", types.ErrUnauthorized, HeaderTimestamp)
	}
	skew := v.clock.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return "", fmt.Errorf("%w: timestamp outside %s window", types.ErrUnauthorized, v.maxSkew)
	}

	sig, err := hexutil.Decode(r.Header.Get(HeaderSignature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: bad %s header", types.ErrUnauthorized, HeaderSignature)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash(Message(r.Method, r.URL.Path, ts, body))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", fmt.Errorf("%w: recover signer: %v", types.ErrUnauthorized, err)
	}
	signer := types.NormalizeIdentity(crypto.PubkeyToAddress(*pub).Hex())
	if signer != identity {
		return "", fmt.Errorf("%w: signed by %s, not %s", types.ErrUnauthorized, signer, identity)
	}
	return identity, nil
}

// HeaderVerifier trusts X-Identity as-is. For local development only.
type HeaderVerifier struct{}

func (HeaderVerifier) Verify(r *http.Request, _ []byte) (types.Identity, error) {
	identity := types.NormalizeIdentity(r.Header.Get(HeaderIdentity))
	if identity == "" {
		return "", fmt.Errorf("%w: missing %s header", types.ErrUnauthorized, HeaderIdentity)
	}
	return identity, nil
}

type contextKey struct{}

// WithIdentity stores the verified identity in ctx.
func WithIdentity(ctx context.Context, id types.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom returns the identity stored by the middleware.
func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(types.Identity)
	return id, ok && id != ""
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, types.ErrUnauthorized)
}
