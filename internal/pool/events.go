// events.go - Audit events recorded by committed pool operations.

package pool

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventType names an audit event.
type EventType string

const (
	EventShielded             EventType = "Shielded"
	EventUnshielded           EventType = "Unshielded"
	EventBatchProcessed       EventType = "BatchProcessed"
	EventPaused               EventType = "Paused"
	EventUnpaused             EventType = "Unpaused"
	EventBlacklisted          EventType = "Blacklisted"
	EventUnblacklisted        EventType = "Unblacklisted"
	EventTokenAdded           EventType = "TokenAdded"
	EventMixingParamsUpdated  EventType = "MixingParametersUpdated"
	EventOwnershipTransferred EventType = "OwnershipTransferred"
)

// Event is an audit record. Only the fields relevant to Type are set.
type Event struct {
	ID        uuid.UUID    `json:"id"`
	Seq       uint64       `json:"seq"`
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Actor     *Address     `json:"actor,omitempty"`
	Depositor *Address     `json:"depositor,omitempty"`
	Recipient *Address     `json:"recipient,omitempty"`
	Token     *TokenID     `json:"token,omitempty"`
	Amount    *uint256.Int `json:"amount,omitempty"`
	// Commitment is only set on Shielded events; withdrawals never reveal it.
	Commitment *CommitmentID `json:"commitment,omitempty"`
	Nullifier  *NullifierID  `json:"nullifier,omitempty"`
	BatchID    *BatchID      `json:"batch_id,omitempty"`
	// Verified is false on Unshielded events accepted without a verified proof.
	Verified *bool `json:"verified,omitempty"`
}

func newEvent(typ EventType, now time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, Timestamp: now}
}

func addr(a Address) *Address { return &a }

func hashRef[T ~[32]byte](h T) *T { return &h }
