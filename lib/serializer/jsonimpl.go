package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dDB/lib/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IConfigSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IConfigSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IConfigSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Name() string { return "json" }

func (j jsonSerializerImpl) Serialize(cfg common.IndexConfiguration) ([]byte, error) {
	b, err := json.Marshal(cfg)
	return b, wrap("json", err)
}

func (j jsonSerializerImpl) Deserialize(b []byte, cfg *common.IndexConfiguration) error {
	var decoded common.IndexConfiguration
	if err := json.Unmarshal(b, &decoded); err != nil {
		return wrap("json", err)
	}
	*cfg = decoded
	return nil
}
