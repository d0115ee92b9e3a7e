package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/dDB/lib/common"
	"github.com/ValentinKolb/dDB/lib/rid"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IConfigSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IConfigSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// gobRecord is the wire form. gob drops zero values and flattens pointers,
// so presence of the optional fields is carried explicitly.
type gobRecord struct {
	Type              string
	Name              string
	HasAutomatic      bool
	Automatic         bool
	TrackedPartitions []string
	HasMapIdentity    bool
	MapIdentity       rid.RID
	Field             string
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IConfigSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Name() string { return "gob" }

func (g gobSerializerImpl) Serialize(cfg common.IndexConfiguration) ([]byte, error) {
	rec := gobRecord{
		Type:              cfg.Type,
		Name:              cfg.Name,
		TrackedPartitions: cfg.TrackedPartitions,
		Field:             cfg.Field,
	}
	if cfg.Automatic != nil {
		rec.HasAutomatic, rec.Automatic = true, *cfg.Automatic
	}
	if cfg.MapIdentity != nil {
		rec.HasMapIdentity, rec.MapIdentity = true, *cfg.MapIdentity
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, wrap("gob", err)
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, cfg *common.IndexConfiguration) error {
	var rec gobRecord
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rec); err != nil {
		return wrap("gob", err)
	}

	decoded := common.IndexConfiguration{
		Type:              rec.Type,
		Name:              rec.Name,
		TrackedPartitions: rec.TrackedPartitions,
		Field:             rec.Field,
	}
	if rec.HasAutomatic {
		automatic := rec.Automatic
		decoded.Automatic = &automatic
	}
	if rec.HasMapIdentity {
		identity := rec.MapIdentity
		decoded.MapIdentity = &identity
	}
	*cfg = decoded
	return nil
}
