package http

import (
	"fmt"
	"time"

	xutil "VaultPulse/pkg/util"
)

// TimeParam reads a query time (RFC3339, unix seconds or unix millis).
// Empty yields def; anything unparseable is a 400 naming the parameter.
func TimeParam(name, raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	t, ok := xutil.ParseTime(raw)
	if !ok {
		return time.Time{}, BadRequestError(fmt.Sprintf("%s: unrecognised time %q", name, raw))
	}
	return t.UTC(), nil
}
