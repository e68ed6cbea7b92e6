// Package lockmgr implements a two-phase lock manager: hierarchical
// table/row locking, isolation-level enforcement, lock upgrades with FIFO
// fairness, and background waits-for deadlock detection.
package lockmgr

import (
	"fmt"

	"coredb/internal/txn"
)

// AbortReason is the typed reason a transaction is aborted for, surfaced to
// callers.
type AbortReason int

const (
	LockOnShrinking AbortReason = iota
	LockSharedOnReadUncommitted
	AttemptedIntentionLockOnRow
	TableLockNotPresent
	IncompatibleUpgrade
	UpgradeConflict
	TableUnlockedBeforeUnlockingRows
	AttemptedUnlockButNoLockHeld
	Deadlock
)

func (r AbortReason) String() string {
	switch r {
	case LockOnShrinking:
		return "LockOnShrinking"
	case LockSharedOnReadUncommitted:
		return "LockSharedOnReadUncommitted"
	case AttemptedIntentionLockOnRow:
		return "AttemptedIntentionLockOnRow"
	case TableLockNotPresent:
		return "TableLockNotPresent"
	case IncompatibleUpgrade:
		return "IncompatibleUpgrade"
	case UpgradeConflict:
		return "UpgradeConflict"
	case TableUnlockedBeforeUnlockingRows:
		return "TableUnlockedBeforeUnlockingRows"
	case AttemptedUnlockButNoLockHeld:
		return "AttemptedUnlockButNoLockHeld"
	case Deadlock:
		return "Deadlock"
	default:
		return "Unknown"
	}
}

// AbortError is returned whenever a lock request causes the transaction to
// abort; the transaction's state is already set to txn.Aborted by the time
// this error is returned.
type AbortError struct {
	TxnID  txn.ID
	Reason AbortReason
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("transaction %d aborted: %s", e.TxnID, e.Reason)
}

// resourceType distinguishes table locks from row locks. Callers pass the
// true resource type to the isolation check; its rules are the same for
// both types, so the check does not read it.
type resourceType int

const (
	resourceTable resourceType = iota
	resourceRow
)

// compatible[held][requested] answers: is `requested` compatible with a
// resource on which `held` is already granted? Rows held/requested are in
// txn.LockMode order (IS, IX, S, SIX, X).
var compatible = [5][5]bool{
	txn.IntentionShared:          {true, true, true, true, false},
	txn.IntentionExclusive:       {true, true, false, false, false},
	txn.Shared:                   {true, false, true, false, false},
	txn.SharedIntentionExclusive: {true, false, false, false, false},
	txn.Exclusive:                {false, false, false, false, false},
}

// upgradePaths lists, for each currently-held mode, the modes an upgrade
// request may legally move to.
var upgradePaths = map[txn.LockMode]map[txn.LockMode]bool{
	txn.IntentionShared: {txn.Shared: true, txn.Exclusive: true, txn.IntentionExclusive: true, txn.SharedIntentionExclusive: true},
	txn.Shared:          {txn.Exclusive: true, txn.SharedIntentionExclusive: true},
	txn.IntentionExclusive: {txn.Exclusive: true, txn.SharedIntentionExclusive: true},
	txn.SharedIntentionExclusive: {txn.Exclusive: true},
}

func upgradeAllowed(old, new_ txn.LockMode) bool {
	return upgradePaths[old][new_]
}
