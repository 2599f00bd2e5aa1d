package out

import (
	"crypto"

	"github.com/coreforge/registry/internal/domain"
)

// SignerKeySource supplies the asymmetric key pair TokenService signs
// bearer tokens with. The private key never leaves this port; callers only
// ever see the signing algorithm and, for verification, the public key.
type SignerKeySource interface {
	Algorithm() domain.SigningAlgorithm
	PrivateKey() crypto.PrivateKey
	PublicKey() crypto.PublicKey
	KeyID() string
}
