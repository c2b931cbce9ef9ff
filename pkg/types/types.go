package types

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Id is an opaque 128-bit identifier used for change sets and
// attribute-value nodes. It supports equality and hashing (it is a
// valid map key) and nothing else.
type Id [16]byte

// NewID generates a fresh random Id.
func NewID() Id {
	return Id(uuid.New())
}

// ParseID parses the canonical UUID string form of an Id.
func ParseID(s string) (Id, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Id{}, fmt.Errorf("parse id %q: %w", s, err)
	}
	return Id(u), nil
}

// IsZero reports whether id is the zero value.
func (id Id) IsZero() bool {
	return id == Id{}
}

func (id Id) String() string {
	return uuid.UUID(id).String()
}

// MarshalJSON renders an Id as its canonical UUID string.
func (id Id) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses an Id from its canonical UUID string.
func (id *Id) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ReplyChannel names a worker's mailbox on the message bus. It is an
// opaque value type: Council never dials it directly, only publishes
// to it through pkg/bus.
type ReplyChannel string

func (rc ReplyChannel) String() string {
	return string(rc)
}

// Graph is the dependency DAG a worker submits for one change set: a
// mapping from node-id to the ordered list of node-ids it depends
// on. It is treated as immutable once received.
type Graph map[Id][]Id
