package guid

import "errors"

var errInvalidGUIDLength = errors.New("guid: invalid hex GUID")
