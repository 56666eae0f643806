package index

// CheckConfirmable enforces terminal-state discipline for Confirm. Pending,
// degraded and failed-writeback records may be confirmed (the latter two are
// the sweep's repair path). Replaying a confirmation with the same digest is
// an idempotent no-op; anything else against a terminal record is a conflict.
func CheckConfirmable(current Status, currentDigest string, conf Confirmation) error {
	switch current {
	case StatusPending, StatusFailedWriteback, StatusDegraded:
		return nil
	case StatusConfirmed:
		if currentDigest == string(conf.Digest) {
			return nil
		}
		return ErrTerminal
	default:
		return ErrTerminal
	}
}

// CheckFailable enforces terminal-state discipline for MarkFailed. Only
// pending records can fail; repeating the same terminal transition is a
// no-op.
func CheckFailable(current, next Status) error {
	if current == next {
		return nil
	}
	if current == StatusPending {
		return nil
	}
	return ErrTerminal
}
