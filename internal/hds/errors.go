package hds

import "errors"

// ErrNotHDS is returned by callers that peek a source body with Detect and
// find it does not look like an HDS manifest; this should be treated as
// "not ours" rather than a fatal parse error.
var ErrNotHDS = errors.New("hds: input is not an HDS manifest")
