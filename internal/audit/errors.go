package audit

import "errors"

// ErrAuditUnavailable is returned by services when an audit write fails.
// Writes are fail-closed: the operation is not reported as done.
var ErrAuditUnavailable = errors.New("audit trail unavailable")
