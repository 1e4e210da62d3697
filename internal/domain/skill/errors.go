package skill

import "errors"

// ErrUnknownCategory is returned by Parse for names outside the six categories.
var ErrUnknownCategory = errors.New("unknown skill category")
