// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"strings"
)

// AbortCostExceededError is raised by the spend gate when accumulated
// model cost reaches a configured threshold. It propagates through the
// chat gateway and the pipeline runtime; the pipeline fails the task
// and re-raises it so the processor aborts the whole batch.
type AbortCostExceededError struct {
	CostType    string // "project" or "run"
	CurrentCost float64
	Threshold   float64
}

func (e *AbortCostExceededError) Error() string {
	return fmt.Sprintf("Abort: %s cost $%.2f exceeds threshold $%.2f", e.CostType, e.CurrentCost, e.Threshold)
}

// UnknownToolError is returned when a tool name resolves to nothing in
// the merged registry.
type UnknownToolError struct {
	Name  string
	Known []string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q (known tools: %s)", e.Name, strings.Join(e.Known, ", "))
}
