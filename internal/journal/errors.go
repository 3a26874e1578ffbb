package journal

import (
	"errors"
	"fmt"
)

// ErrStaleTip is returned when an append's expected tip no longer
// matches the actual tip: another writer got there first. The caller
// should re-read the tip and retry.
var ErrStaleTip = errors.New("journal tip changed since last read")

// ErrDayAnchored is returned when AnchorDay is called twice for the
// same UTC day within one run.
var ErrDayAnchored = errors.New("day already anchored")

// ErrReadOnly is returned when a mutation is attempted on a journal
// reconstructed by Load. A loaded journal verifies history; it has no
// sink, so accepting writes would silently diverge from the file.
var ErrReadOnly = errors.New("journal is read-only")

// IntegrityError reports a broken chain link or an attempted mutation
// of a past entry. Integrity errors are always fatal to the run: the
// journal's auditability guarantee no longer holds, so nothing further
// may be appended.
type IntegrityError struct {
	Seq    int64  // position of the first broken entry
	Reason string // what failed to verify
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("journal integrity violation at seq %d: %s", e.Seq, e.Reason)
}

// IsIntegrityError reports whether err is a (possibly wrapped)
// IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
