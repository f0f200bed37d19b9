// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package decode

import "errors"

var (
	ErrNotFound          = errors.New("source not found")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrEmptyImage        = errors.New("image has no pixels")
	ErrTooLarge          = errors.New("source exceeds size limit")
)
