// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

// ErrInvalidConfig is returned when the store configuration cannot be used.
var ErrInvalidConfig = httperr.WithCode(
	errors.New("invalid store configuration"),
	http.StatusBadRequest,
)
