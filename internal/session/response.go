// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// ChatResponse is the outcome of one structured prompt: either data
// conforming to the caller's schema, or an error message. The model
// declining via the result envelope and an infrastructure failure both
// surface as the error branch.
type ChatResponse struct {
	data         map[string]any
	errorMessage string
	success      bool
}

// SuccessResponse wraps validated answer data.
func SuccessResponse(data map[string]any) *ChatResponse {
	return &ChatResponse{data: data, success: true}
}

// ErrorResponse wraps a failure message.
func ErrorResponse(message string) *ChatResponse {
	return &ChatResponse{errorMessage: message}
}

// Success reports whether the prompt produced data.
func (r *ChatResponse) Success() bool {
	return r.success
}

// Data returns the answer data of a successful response.
func (r *ChatResponse) Data() map[string]any {
	return r.data
}

// ErrorMessage returns the failure message of an error response.
func (r *ChatResponse) ErrorMessage() string {
	return r.errorMessage
}
