// nullifiers.go - Set of spent nullifiers.

package pool

import (
	"fmt"
	"time"
)

func (t *txn) nullifierUsed(id NullifierID) bool {
	if n, ok := t.nullifiers[id]; ok {
		return n.Used
	}
	n, ok := t.base.nullifiers[id]
	return ok && n.Used
}

// consumeNullifier marks id used. It is the last step of every withdrawal path.
func (t *txn) consumeNullifier(id NullifierID, now time.Time) error {
	if t.nullifierUsed(id) {
		return fmt.Errorf("%w: %s", ErrNullifierAlreadyUsed, id.Hex())
	}
	t.nullifiers[id] = &NullifierRecord{ID: id, Used: true, UsedAt: now}
	return nil
}
