package model

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/DexterZero/Spyro-API/internal/codec"
)

var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Int128 is a signed 128-bit integer. It is held as a normalized decimal
// string so values compare with == and encode identically everywhere. The
// zero value is 0.
type Int128 struct {
	dec string
}

// NewInt128 converts an int64.
func NewInt128(v int64) Int128 {
	if v == 0 {
		return Int128{}
	}
	return Int128{dec: strconv.FormatInt(v, 10)}
}

// ParseInt128 parses a base-10 integer, rejecting values outside 128 bits.
func ParseInt128(s string) (Int128, error) {
	b, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return Int128{}, fmt.Errorf("%w: not an integer: %q", ErrInvalidField, s)
	}
	return Int128FromBig(b)
}

// Int128FromBig range-checks b.
func Int128FromBig(b *big.Int) (Int128, error) {
	if b.Cmp(maxInt128) > 0 || b.Cmp(minInt128) < 0 {
		return Int128{}, ErrOverflow
	}
	if b.Sign() == 0 {
		return Int128{}, nil
	}
	return Int128{dec: b.String()}, nil
}

// MustInt128 parses s and panics on error. For constants and tests.
func MustInt128(s string) Int128 {
	v, err := ParseInt128(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Big returns a fresh big.Int.
func (i Int128) Big() *big.Int {
	b, _ := new(big.Int).SetString(i.String(), 10)
	return b
}

// Sign returns -1, 0 or +1.
func (i Int128) Sign() int {
	switch {
	case i.dec == "":
		return 0
	case i.dec[0] == '-':
		return -1
	}
	return 1
}

// String returns the decimal form.
func (i Int128) String() string {
	if i.dec == "" {
		return "0"
	}
	return i.dec
}

// MarshalJSON encodes as a decimal string; JSON numbers lose precision
// past 2^53 in most consumers.
func (i Int128) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// UnmarshalJSON accepts a JSON number or a decimal string.
func (i *Int128) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}
	v, err := ParseInt128(string(raw))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// MarshalCBOR encodes as a CBOR integer or bignum.
func (i Int128) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(i.Big())
}

// UnmarshalCBOR decodes a CBOR integer or bignum.
func (i *Int128) UnmarshalCBOR(data []byte) error {
	var b big.Int
	if err := codec.Unmarshal(data, &b); err != nil {
		return err
	}
	v, err := Int128FromBig(&b)
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Decimal is a fixed-point decimal number in canonical string form, such as
// "0.9876". It is produced by integer arithmetic only.
type Decimal string

// DecimalFromRatio renders num/den with scale fractional digits, truncating.
func DecimalFromRatio(num, den uint64, scale int) Decimal {
	if den == 0 {
		return Decimal("0")
	}
	whole := num / den
	rem := num % den
	if scale <= 0 {
		return Decimal(strconv.FormatUint(whole, 10))
	}
	frac := new(big.Int).Mul(new(big.Int).SetUint64(rem), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil))
	frac.Quo(frac, new(big.Int).SetUint64(den))
	fs := frac.String()
	if pad := scale - len(fs); pad > 0 {
		fs = strings.Repeat("0", pad) + fs
	}
	return Decimal(strconv.FormatUint(whole, 10) + "." + fs)
}

// String returns the decimal text.
func (d Decimal) String() string { return string(d) }

// Bytes is an opaque byte string rendered as 0x-prefixed hex in JSON.
type Bytes []byte

// MarshalJSON encodes as "0x..." hex.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON decodes "0x..." hex.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	out, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return fmt.Errorf("%w: bytes: %v", ErrInvalidField, err)
	}
	*b = out
	return nil
}

// String returns the 0x-prefixed hex form.
func (b Bytes) String() string { return "0x" + hex.EncodeToString(b) }
