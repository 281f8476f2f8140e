package codec

import "errors"

// Parse errors, matching the taxonomy in the error-handling design: all are
// logged at debug level by the caller and cause the packet to be dropped.
var (
	ErrShortFrame      = errors.New("codec: frame shorter than BOOTP header plus cookie")
	ErrBadCookie       = errors.New("codec: bad magic cookie")
	ErrTruncatedOption = errors.New("codec: option length overruns buffer")
)
