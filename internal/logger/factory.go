// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetStoreLogger returns a logger for the versioned record store
func GetStoreLogger() zerolog.Logger {
	return GetLogger("store")
}

// GetPipelineLogger returns a logger for the pipeline runtime
func GetPipelineLogger() zerolog.Logger {
	return GetLogger("pipeline")
}

// GetProcessorLogger returns a logger for the workspace scheduler
func GetProcessorLogger() zerolog.Logger {
	return GetLogger("processor")
}

// GetChatLogger returns a logger for the chat gateway
func GetChatLogger() zerolog.Logger {
	return GetLogger("chat")
}

// GetSessionLogger returns a logger for session operations
func GetSessionLogger() zerolog.Logger {
	return GetLogger("session")
}

// GetGitLogger returns a logger for git operations
func GetGitLogger() zerolog.Logger {
	return GetLogger("git")
}

// GetBatchLogger returns a logger for the batch facade
func GetBatchLogger() zerolog.Logger {
	return GetLogger("batch")
}
