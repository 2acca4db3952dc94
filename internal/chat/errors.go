// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
)

// InvalidResponseError is returned when the model could not produce a
// parseable, schema-conforming reply within the attempt budget.
type InvalidResponseError struct {
	Attempts int
	LastErr  error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("no valid structured response after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *InvalidResponseError) Unwrap() error {
	return e.LastErr
}

// NoConfirmationError is returned when no answer accumulated the
// required number of identical copies within the answer budget.
type NoConfirmationError struct {
	Confirm int
	OutOf   int
}

func (e *NoConfirmationError) Error() string {
	return fmt.Sprintf("no answer confirmed %d times in %d attempts", e.Confirm, e.OutOf)
}
