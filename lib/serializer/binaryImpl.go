package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dDB/lib/common"
	"github.com/ValentinKolb/dDB/lib/rid"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for size
func NewBinarySerializer() IConfigSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IConfigSerializer using a custom binary format
type binarySerializerImpl struct {
}

const binaryVersion byte = 1

// Bit flags to indicate which optional fields are present
const (
	hasAutomatic   byte = 1 << 0
	automaticTrue  byte = 1 << 1
	hasPartitions  byte = 1 << 2
	hasMapIdentity byte = 1 << 3
	hasField       byte = 1 << 4
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IConfigSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Name() string { return "binary" }

// Serialize writes: version, flags, type, name, then the optional fields in
// flag order. Strings are u32 length prefixed, big endian.
func (b binarySerializerImpl) Serialize(cfg common.IndexConfiguration) ([]byte, error) {
	var flags byte
	out := make([]byte, 2, 64)
	out[0] = binaryVersion

	out = appendString(out, cfg.Type)
	out = appendString(out, cfg.Name)

	if cfg.Automatic != nil {
		flags |= hasAutomatic
		if *cfg.Automatic {
			flags |= automaticTrue
		}
	}

	if cfg.TrackedPartitions != nil {
		flags |= hasPartitions
		out = binary.BigEndian.AppendUint32(out, uint32(len(cfg.TrackedPartitions)))
		for _, p := range cfg.TrackedPartitions {
			out = appendString(out, p)
		}
	}

	if cfg.MapIdentity != nil {
		flags |= hasMapIdentity
		out = binary.BigEndian.AppendUint32(out, cfg.MapIdentity.Partition)
		out = binary.BigEndian.AppendUint64(out, uint64(cfg.MapIdentity.Position))
	}

	if cfg.Field != "" {
		flags |= hasField
		out = appendString(out, cfg.Field)
	}

	// Set flags byte after knowing which fields are present
	out[1] = flags
	return out, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, cfg *common.IndexConfiguration) error {
	decoded, err := decodeBinary(data)
	if err != nil {
		return wrap("binary", err)
	}
	*cfg = decoded
	return nil
}

func decodeBinary(data []byte) (common.IndexConfiguration, error) {
	var cfg common.IndexConfiguration

	// Check minimum size (version + flags)
	if len(data) < 2 {
		return cfg, fmt.Errorf("data too short for record header")
	}
	if data[0] != binaryVersion {
		return cfg, fmt.Errorf("unsupported version %d", data[0])
	}
	flags := data[1]
	r := reader{data: data, pos: 2}

	cfg.Type = r.string("type")
	cfg.Name = r.string("name")

	if flags&hasAutomatic != 0 {
		automatic := flags&automaticTrue != 0
		cfg.Automatic = &automatic
	}

	if flags&hasPartitions != 0 {
		n := r.uint32("partition count")
		if r.err == nil && int(n) > len(data) {
			r.err = fmt.Errorf("partition count %d exceeds record size", n)
		}
		if r.err == nil {
			cfg.TrackedPartitions = make([]string, 0, n)
			for i := uint32(0); i < n && r.err == nil; i++ {
				cfg.TrackedPartitions = append(cfg.TrackedPartitions, r.string("partition"))
			}
		}
	}

	if flags&hasMapIdentity != 0 {
		id := rid.RID{
			Partition: r.uint32("map identity"),
			Position:  int64(r.uint64("map identity")),
		}
		cfg.MapIdentity = &id
	}

	if flags&hasField != 0 {
		cfg.Field = r.string("field")
	}

	if r.err == nil && r.pos != len(data) {
		r.err = fmt.Errorf("%d trailing bytes", len(data)-r.pos)
	}
	return cfg, r.err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func appendString(out []byte, s string) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(s)))
	return append(out, s...)
}

// reader is a cursor over the record that remembers the first error
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) need(n int, what string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", what)
		return false
	}
	return true
}

func (r *reader) uint32(what string) uint32 {
	if !r.need(4, what) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) uint64(what string) uint64 {
	if !r.need(8, what) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) string(what string) string {
	n := r.uint32(what + " length")
	if !r.need(int(n), what) {
		return ""
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s
}
