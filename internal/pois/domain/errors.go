package pois

import "errors"

// ErrNotFound marks a missing POI or report.
var ErrNotFound = errors.New("pois: not found")
