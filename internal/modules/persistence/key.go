// Package persistence writes a finished run to the remote store: the best record
// first, then the records that reference it, collecting a per-write report.
package persistence

import (
	"fmt"
	"strings"
)

// UniqueKey identifies one (symbol, horizon, context, model[, owner]) evaluation.
// Every dependent record carries it and the store enforces it as a foreign key.
func UniqueKey(symbol string, horizonLen, contextLen int, modelVersion string, owner *int) string {
	key := fmt.Sprintf("%s_h%d_c%d_%s", strings.TrimSpace(symbol), horizonLen, contextLen, modelVersion)
	if owner != nil {
		key += fmt.Sprintf("_u%d", *owner)
	}
	return key
}
