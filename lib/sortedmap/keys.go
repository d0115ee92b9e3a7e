package sortedmap

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/pkg/errors"
)

// ErrInvalidKey is returned for keys of unsupported types
var ErrInvalidKey = errors.New("invalid key")

// --------------------------------------------------------------------------
// Normalization
// --------------------------------------------------------------------------

// Normalize maps key onto one of the stored key types: string, int64,
// float64, bool, time.Time or rid.RID. Other integer and float widths are
// widened, everything else is rejected.
func Normalize(key any) (any, error) {
	switch k := key.(type) {
	case string, int64, float64, bool, rid.RID:
		return k, nil
	case time.Time:
		return k, nil
	case int:
		return int64(k), nil
	case int8:
		return int64(k), nil
	case int16:
		return int64(k), nil
	case int32:
		return int64(k), nil
	case uint8:
		return int64(k), nil
	case uint16:
		return int64(k), nil
	case uint32:
		return int64(k), nil
	case uint:
		if uint64(k) > math.MaxInt64 {
			return nil, errors.Wrapf(ErrInvalidKey, "%d overflows int64", k)
		}
		return int64(k), nil
	case uint64:
		if k > math.MaxInt64 {
			return nil, errors.Wrapf(ErrInvalidKey, "%d overflows int64", k)
		}
		return int64(k), nil
	case float32:
		return float64(k), nil
	case nil:
		return nil, errors.Wrap(ErrInvalidKey, "nil key")
	default:
		return nil, errors.Wrapf(ErrInvalidKey, "unsupported key type %T", key)
	}
}

// --------------------------------------------------------------------------
// Ordering
// --------------------------------------------------------------------------

// rank orders keys of different kinds. Integers and floats share a rank and
// compare by numeric value.
func rank(k any) int {
	switch k.(type) {
	case bool:
		return 0
	case int64, float64:
		return 1
	case string:
		return 2
	case time.Time:
		return 3
	case rid.RID:
		return 4
	default:
		return 5
	}
}

// Compare orders two normalized keys
func Compare(a, b any) int {
	if ra, rb := rank(a), rank(b); ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
		return cmp.Compare(float64(x), b.(float64))
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
		return cmp.Compare(x, float64(b.(int64)))
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		return x.Compare(b.(time.Time))
	case rid.RID:
		return x.Compare(b.(rid.RID))
	}
	return 0
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

const (
	tagString byte = 's'
	tagInt    byte = 'i'
	tagFloat  byte = 'f'
	tagBool   byte = 'b'
	tagTime   byte = 't'
	tagRID    byte = 'r'
)

// appendKey appends the tagged binary form of a normalized key
func appendKey(buf []byte, key any) ([]byte, error) {
	switch k := key.(type) {
	case string:
		buf = append(buf, tagString)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(k)))
		return append(buf, k...), nil
	case int64:
		buf = append(buf, tagInt)
		return binary.BigEndian.AppendUint64(buf, uint64(k)), nil
	case float64:
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(k)), nil
	case bool:
		b := byte(0)
		if k {
			b = 1
		}
		return append(buf, tagBool, b), nil
	case time.Time:
		raw, err := k.MarshalBinary()
		if err != nil {
			return nil, errors.Wrap(err, "encode time key")
		}
		buf = append(buf, tagTime, byte(len(raw)))
		return append(buf, raw...), nil
	case rid.RID:
		buf = append(buf, tagRID)
		buf = binary.BigEndian.AppendUint32(buf, k.Partition)
		return binary.BigEndian.AppendUint64(buf, uint64(k.Position)), nil
	default:
		return nil, errors.Wrapf(ErrInvalidKey, "unsupported key type %T", key)
	}
}

// readKey decodes a key written by appendKey
func (r *reader) readKey() any {
	switch tag := r.byte(); tag {
	case tagString:
		return string(r.bytes(int(r.uint32())))
	case tagInt:
		return int64(r.uint64())
	case tagFloat:
		return math.Float64frombits(r.uint64())
	case tagBool:
		return r.byte() == 1
	case tagTime:
		raw := r.bytes(int(r.byte()))
		var t time.Time
		if r.err == nil {
			if err := t.UnmarshalBinary(raw); err != nil {
				r.fail(err)
			}
		}
		return t
	case tagRID:
		return rid.RID{Partition: r.uint32(), Position: int64(r.uint64())}
	default:
		r.fail(fmt.Errorf("unknown key tag %q", tag))
		return nil
	}
}
