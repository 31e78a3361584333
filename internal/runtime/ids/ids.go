package ids

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// CreateULID returns a lexicographically sortable unique identifier.
// Message identifiers use ULIDs so log output and broker dumps sort in
// publish order.
func CreateULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
}

// NewConnID returns a random identifier for a peer connection. Connection
// identifiers have no ordering requirement, so a plain UUID is used.
func NewConnID() string {
	return uuid.NewString()
}

// NewCorrelationID returns a fresh correlation identifier for an outbound
// message that is not replying to anything.
func NewCorrelationID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
