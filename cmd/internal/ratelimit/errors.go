package ratelimit

import "errors"

var errKeyTooLong = errors.New("ratelimit: fingerprint key exceeds 64 bytes")
