// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package imagecache

import "errors"

var (
	ErrClosed        = errors.New("image cache is closed")
	ErrInvalidConfig = errors.New("invalid image cache configuration")
	ErrInvalidHandle = errors.New("invalid handle")
)
