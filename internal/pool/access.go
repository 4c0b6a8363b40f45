// access.go - Pause, blacklist, token allow-list and owner checks.

package pool

import "fmt"

func (t *txn) checkPaused() error {
	if t.adminState().Paused {
		return ErrPaused
	}
	return nil
}

func (t *txn) checkAddress(a Address) error {
	if t.adminState().Blacklist[a] {
		return fmt.Errorf("%w: %s", ErrBlacklisted, a.Hex())
	}
	return nil
}

// checkCounterparty rejects the custody account as the source or target of an external
// transfer. A pull from custody to itself moves nothing, so the deposit would be unbacked.
func (t *txn) checkCounterparty(a Address) error {
	if a == t.custody {
		return fmt.Errorf("%w: %s", ErrCustodyAccount, a.Hex())
	}
	return nil
}

func (t *txn) checkToken(token TokenID) error {
	if token == (TokenID{}) {
		return ErrInvalidToken
	}
	if !t.adminState().Tokens[token] {
		return fmt.Errorf("%w: %s", ErrUnsupportedToken, token.Hex())
	}
	return nil
}

func (t *txn) requireOwner(caller Address) error {
	if caller != t.adminState().Owner {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, caller.Hex())
	}
	return nil
}
