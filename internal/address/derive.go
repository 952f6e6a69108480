package address

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // P2PKH identifiers are defined over RIPEMD-160

	"github.com/MJE43/keyscan/internal/keyspace"
)

// Version is the leading payload byte of a mainnet pay-to-pubkey-hash identifier.
const Version byte = 0x00

// ErrInvalidKey is returned for scalars outside [1, n-1] on secp256k1.
var ErrInvalidKey = errors.New("invalid private key scalar")

// Deriver maps a candidate key to its public identifier.
type Deriver interface {
	Derive(key *big.Int) (string, error)
}

// DeriverFunc adapts a plain function to Deriver.
type DeriverFunc func(key *big.Int) (string, error)

func (f DeriverFunc) Derive(key *big.Int) (string, error) { return f(key) }

// P2PKH derives compressed-pubkey base58check identifiers. The zero value is ready to use.
type P2PKH struct{}

func (P2PKH) Derive(key *big.Int) (string, error) { return Derive(key) }

// Derive computes the identifier for key:
// scalar -> compressed point -> SHA-256 -> RIPEMD-160 -> version byte ->
// 4-byte double-SHA-256 checksum -> base58.
func Derive(key *big.Int) (string, error) {
	if key == nil || key.Sign() <= 0 || key.BitLen() > 256 {
		return "", ErrInvalidKey
	}

	raw := keyspace.Bytes(key)
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(raw[:]); overflow || scalar.IsZero() {
		return "", ErrInvalidKey
	}

	priv := secp256k1.NewPrivateKey(&scalar)
	defer priv.Zero()

	return FromPubKey(priv.PubKey().SerializeCompressed()), nil
}

// FromPubKey encodes a serialized public key as a versioned base58check identifier.
func FromPubKey(pub []byte) string {
	return base58.CheckEncode(Hash160(pub), Version)
}

// Hash160 is RIPEMD-160(SHA-256(b)).
func Hash160(b []byte) []byte {
	sha := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(sha[:])
	return h.Sum(nil)
}

// DeriveHex parses a 64-digit hex key and derives its identifier.
func DeriveHex(hexKey string) (string, error) {
	k, err := keyspace.ParseKey(hexKey)
	if err != nil {
		return "", err
	}
	return Derive(k)
}
