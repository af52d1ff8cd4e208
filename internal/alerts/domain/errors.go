package alerts

import "errors"

// ErrDuplicateAlert indicates an Open for a (sensor, tier) that already has an
// active alert. This means the classifier and the ledger disagree: it is
// logged and skipped for the item, never retried.
var ErrDuplicateAlert = errors.New("alerts: active alert already exists")

// ErrNotFound indicates the requested alert does not exist.
var ErrNotFound = errors.New("alerts: not found")
