package batch

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewItemID builds an ID from the session key, the arrival tick and a random
// UUID, so IDs stay unique across sessions and across batches of one session.
func NewItemID(key SessionKey, now time.Time) ItemID {
	return ItemID(fmt.Sprintf("%s_%d_%s", key, now.UnixNano(), uuid.NewString()))
}
