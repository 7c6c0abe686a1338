package acme

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"

	jose "github.com/go-jose/go-jose/v4"
)

// rsaJWK is the public-key representation embedded in request headers.
// Field order is fixed: e, kty, n. The key-authorization digest hashes
// exactly this serialization (the RFC 7638 thumbprint form), so the order
// must be preserved byte-for-byte.
type rsaJWK struct {
	E   string `json:"e"`
	Kty string `json:"kty"`
	N   string `json:"n"`
}

func newRSAJWK(pub *rsa.PublicKey) rsaJWK {
	return rsaJWK{
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
	}
}

// KeyAuthorization binds a challenge token to the account key:
// token + "." + base64url(sha256(jwk)). The published value must match
// this byte-for-byte during both the local self-check and CA validation.
func KeyAuthorization(token string, pub *rsa.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("%w: computing key thumbprint: %w", ErrCrypto, err)
	}
	return token + "." + base64.RawURLEncoding.EncodeToString(thumbprint), nil
}
