package call

import "errors"

var ErrNoSuchCall = errors.New("no incoming call from peer")
