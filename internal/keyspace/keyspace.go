package keyspace

import (
	"errors"
	"fmt"
	"math/big"
)

// HexDigits is the fixed width of a serialized key: 64 hex digits, 256 bits.
const HexDigits = 64

var (
	ErrInvalidKeyFormat = errors.New("invalid key format")
	ErrInvalidInterval  = errors.New("invalid interval")
)

var one = big.NewInt(1)

// MaxKey is the largest representable key, 2^256 - 1.
var MaxKey = new(big.Int).Sub(new(big.Int).Lsh(one, 256), one)

// ParseKey decodes exactly 64 hex digits (either case) into a key.
func ParseKey(s string) (*big.Int, error) {
	if len(s) != HexDigits {
		return nil, fmt.Errorf("%w: want %d hex digits, got %d", ErrInvalidKeyFormat, HexDigits, len(s))
	}
	for i := 0; i < len(s); i++ {
		if !isHex(s[i]) {
			return nil, fmt.Errorf("%w: non-hex character %q at offset %d", ErrInvalidKeyFormat, s[i], i)
		}
	}
	k, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKeyFormat, s)
	}
	return k, nil
}

// FormatKey renders k as 64 lower-case hex digits.
func FormatKey(k *big.Int) string {
	return fmt.Sprintf("%064x", k)
}

// Bytes returns the 32-byte big-endian encoding of k.
func Bytes(k *big.Int) [32]byte {
	var b [32]byte
	k.FillBytes(b[:])
	return b
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Interval is an inclusive key range [Start, End].
type Interval struct {
	Start *big.Int
	End   *big.Int
}

// NewInterval validates start <= end and that both fit in 256 bits.
func NewInterval(start, end *big.Int) (Interval, error) {
	if start == nil || end == nil {
		return Interval{}, fmt.Errorf("%w: missing bound", ErrInvalidInterval)
	}
	if start.Sign() < 0 || end.Cmp(MaxKey) > 0 {
		return Interval{}, fmt.Errorf("%w: bounds outside the 256-bit keyspace", ErrInvalidInterval)
	}
	if start.Cmp(end) > 0 {
		return Interval{}, fmt.Errorf("%w: start must be <= end", ErrInvalidInterval)
	}
	return Interval{Start: new(big.Int).Set(start), End: new(big.Int).Set(end)}, nil
}

// ParseInterval parses both bounds from hex and validates the pair.
func ParseInterval(start, end string) (Interval, error) {
	s, err := ParseKey(start)
	if err != nil {
		return Interval{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseKey(end)
	if err != nil {
		return Interval{}, fmt.Errorf("end: %w", err)
	}
	return NewInterval(s, e)
}

// Size returns End - Start + 1.
func (iv Interval) Size() *big.Int {
	n := new(big.Int).Sub(iv.End, iv.Start)
	return n.Add(n, one)
}

func (iv Interval) String() string {
	return FormatKey(iv.Start) + "-" + FormatKey(iv.End)
}
