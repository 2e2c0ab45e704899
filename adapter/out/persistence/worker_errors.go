package persistence

import "errors"

var ErrNotFound = errors.New("not found")
