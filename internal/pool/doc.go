// Package pool implements a shielded pool ledger: depositors shield token balances behind
// opaque commitments and withdraw them later, to another address, once a mixing period has
// elapsed.
//
// Overview:
//   - Commitments are registered once and consumed once; nullifiers are spent once
//   - Shielded deposits are grouped into mixing batches that mature after the mixing period
//   - Withdrawals go through MixAndWithdraw (per commitment), ProcessBatch (per batch) or
//     Unshield (out of liquidity released by processed batches)
//   - Pause, blacklist, token allow-list and ownership are held in an explicit AdminState
//
// Consistency Model:
//   - One writer at a time; every operation stages its effects in a transaction overlay
//   - External token transfers settle inside the boundary and are compensated on failure
//   - A change-set reaches memory only after the Store has committed it
//   - held(token) == sum of unconsumed commitments for token + released(token)
//
// Known Gaps:
//   - With the default UnverifiedProofs verifier, Unshield accepts any proof, including an
//     empty one. Such withdrawals are logged and carry Verified=false in their event.
//   - Recipient-to-commitment binding in ProcessBatch is supplied by the caller.
package pool
