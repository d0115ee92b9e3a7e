package common

import (
	"slices"

	"github.com/ValentinKolb/dDB/lib/rid"
)

// --------------------------------------------------------------------------
// Index Configuration Record
// --------------------------------------------------------------------------

// IndexConfiguration is the persisted description of a secondary index.
// Optional fields are pointers so that "absent" can be told apart from the
// zero value: a record without Automatic means automatic, a record without
// MapIdentity has no backing map.
type IndexConfiguration struct {
	Type              string   `json:"type"`
	Name              string   `json:"name"`
	Automatic         *bool    `json:"automatic,omitempty"`
	TrackedPartitions []string `json:"trackedPartitions,omitempty"`
	MapIdentity       *rid.RID `json:"mapIdentity,omitempty"`

	// Field is the document field the key extractor reads. Indexes with a
	// custom extractor leave it empty.
	Field string `json:"field,omitempty"`
}

// NewIndexConfiguration creates a complete configuration record
func NewIndexConfiguration(indexType, name string, automatic bool, partitions []string, identity rid.RID) *IndexConfiguration {
	cfg := &IndexConfiguration{
		Type:              indexType,
		Name:              name,
		Automatic:         &automatic,
		TrackedPartitions: slices.Clone(partitions),
	}
	if identity != rid.Invalid {
		cfg.MapIdentity = &identity
	}
	return cfg
}

// IsAutomatic reports the automatic flag, defaulting to true when absent
func (c *IndexConfiguration) IsAutomatic() bool {
	return c.Automatic == nil || *c.Automatic
}

// Identity returns the backing map identity and whether the record has one
func (c *IndexConfiguration) Identity() (rid.RID, bool) {
	if c.MapIdentity == nil || *c.MapIdentity == rid.Invalid {
		return rid.Invalid, false
	}
	return *c.MapIdentity, true
}
