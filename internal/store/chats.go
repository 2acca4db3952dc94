// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noldarim/weaver/internal/models"
)

// Chat audit accessors. The pipeline runtime never mutates these rows;
// they are written by the session layer and read by the cost oracle.

// FindOrCreateModel returns the model row for (name, provider),
// creating it when absent.
func (s *Store) FindOrCreateModel(ctx context.Context, name, provider string) (*models.Model, error) {
	if s.ReadOnly() {
		return nil, ErrReadOnlyStore
	}
	var m models.Model
	err := s.db.WithContext(ctx).Where("name = ? AND provider = ?", name, provider).First(&m).Error
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	m = models.Model{Name: name, Provider: provider}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateChat inserts a new chat.
func (s *Store) CreateChat(ctx context.Context, chat *models.Chat) error {
	if s.ReadOnly() {
		return ErrReadOnlyStore
	}
	return s.db.WithContext(ctx).Create(chat).Error
}

// CreateMessage inserts a new message into a chat's transcript.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	if s.ReadOnly() {
		return ErrReadOnlyStore
	}
	return s.db.WithContext(ctx).Create(msg).Error
}

// CreateToolCall records a tool invocation for a message.
func (s *Store) CreateToolCall(ctx context.Context, tc *models.ToolCall) error {
	if s.ReadOnly() {
		return ErrReadOnlyStore
	}
	return s.db.WithContext(ctx).Create(tc).Error
}

// ChatMessages retrieves a chat's messages in order.
func (s *Store) ChatMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	var msgs []*models.Message
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("id ASC").Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// TokenTotals aggregates token counters across messages.
type TokenTotals struct {
	InputTokens         int
	OutputTokens        int
	CachedTokens        int
	CacheCreationTokens int
}

const tokenTotalsSelect = "COALESCE(SUM(messages.input_tokens), 0) AS input_tokens, " +
	"COALESCE(SUM(messages.output_tokens), 0) AS output_tokens, " +
	"COALESCE(SUM(messages.cached_tokens), 0) AS cached_tokens, " +
	"COALESCE(SUM(messages.cache_creation_tokens), 0) AS cache_creation_tokens"

// TokenTotalsByProject sums token counters over every chat of a project.
func (s *Store) TokenTotalsByProject(ctx context.Context, project string) (*TokenTotals, error) {
	var totals TokenTotals
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Joins("JOIN chats ON chats.id = messages.chat_id").
		Where("chats.project = ?", project).
		Select(tokenTotalsSelect).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

// TokenTotalsByRun sums token counters over a single run of a project.
func (s *Store) TokenTotalsByRun(ctx context.Context, project, runID string) (*TokenTotals, error) {
	var totals TokenTotals
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Joins("JOIN chats ON chats.id = messages.chat_id").
		Where("chats.project = ? AND chats.run_id = ?", project, runID).
		Select(tokenTotalsSelect).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return &totals, nil
}
