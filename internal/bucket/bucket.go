// Package bucket maps experimental units to buckets and groups.
//
// A unit's bucket is derived from SHA-1 over its canonical id, the
// experiment seed, and a fixed salt. The hash exists for reproducible
// assignment only; it is not meant to hide anything.
package bucket

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"math"
	"strconv"

	"github.com/sells-group/abtest-cli/internal/experr"
)

// Count is the number of buckets. Bucket values fall in [0, Count).
const Count = 100

const salt = "exp_bucket"

// Bucket returns the bucket for a canonical unit id under seed.
// The hashed key is id + seed + "exp_bucket"; the last four digest bytes
// are read as a big-endian uint32 and reduced modulo Count.
func Bucket(seed, id string) int {
	sum := sha1.Sum([]byte(id + seed + salt))
	v := binary.BigEndian.Uint32(sum[len(sum)-4:])
	return int(v % Count)
}

// Of canonicalizes id and returns its bucket under seed.
func Of(seed string, id any) (int, error) {
	s, err := CanonicalID(id)
	if err != nil {
		return 0, err
	}
	return Bucket(seed, s), nil
}

// CanonicalID renders a unit id the way it is hashed. Strings are used
// as-is, integers as decimal text, integral floats without fractional
// digits and other floats as their shortest decimal form.
func CanonicalID(id any) (string, error) {
	switch v := id.(type) {
	case string:
		return v, nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		f, err := v.Float64()
		if err != nil {
			return "", experr.Configf("unit id %q is not a valid number", v.String())
		}
		return formatFloat(f)
	default:
		return "", experr.Configf("unsupported unit id type %T", id)
	}
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", experr.Configf("unit id %v is not finite", f)
	}
	if f == math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', 0, 64), nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
