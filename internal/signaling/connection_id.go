package signaling

import (
	"encoding/base32"
	"fmt"

	"github.com/google/uuid"
)

var connectionIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ConnectionID identifies one registered socket for its whole lifetime.
type ConnectionID [16]byte

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New())
}

func ParseConnectionID(s string) (ConnectionID, error) {
	var id ConnectionID
	b, err := connectionIDEncoding.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse connection id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("parse connection id %q: got %d bytes, want %d", s, len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

func (id ConnectionID) String() string {
	return connectionIDEncoding.EncodeToString(id[:])
}
