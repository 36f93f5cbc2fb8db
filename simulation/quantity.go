package simulation

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var errQuantityRange = errors.New("quantity exceeds 256 bits")

// Quantity is an unsigned 256-bit integer. It decodes from JSON numbers,
// decimal strings and 0x-prefixed hex strings (leading zeros allowed) and
// encodes as a 0x-prefixed hex string.
type Quantity uint256.Int

// NewQuantity returns the quantity of v.
func NewQuantity(v uint64) *Quantity {
	return (*Quantity)(uint256.NewInt(v))
}

// Int returns the value as a uint256.
func (q *Quantity) Int() *uint256.Int {
	return new(uint256.Int).Set((*uint256.Int)(q))
}

// Uint64 returns the value and whether it fits into 64 bits.
func (q *Quantity) Uint64() (uint64, bool) {
	i := (*uint256.Int)(q)
	return i.Uint64(), i.IsUint64()
}

// Hash returns the value as a 32 byte big-endian word.
func (q *Quantity) Hash() common.Hash {
	return (*uint256.Int)(q).Bytes32()
}

// String implements fmt.Stringer.
func (q Quantity) String() string {
	return (*uint256.Int)(&q).Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (q Quantity) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quantity) UnmarshalText(input []byte) error {
	s := strings.TrimSpace(string(input))
	if s == "" {
		return errors.New("empty quantity")
	}
	var (
		v  = new(big.Int)
		ok bool
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" {
			digits = "0"
		}
		_, ok = v.SetString(digits, 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("invalid quantity %q", s)
	}
	i, overflow := uint256.FromBig(v)
	if overflow {
		return errQuantityRange
	}
	*q = Quantity(*i)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler, accepting both strings and
// plain numbers.
func (q *Quantity) UnmarshalJSON(input []byte) error {
	input = bytes.TrimSpace(input)
	if len(input) >= 2 && input[0] == '"' && input[len(input)-1] == '"' {
		return q.UnmarshalText(input[1 : len(input)-1])
	}
	return q.UnmarshalText(input)
}
