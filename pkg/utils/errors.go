package utils

import "github.com/pkg/errors"

var errTrailingData = errors.New("unexpected data after JSON body")
