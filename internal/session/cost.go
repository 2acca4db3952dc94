// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"

	"github.com/noldarim/weaver/internal/config"
	"github.com/noldarim/weaver/internal/store"
)

// Oracle answers how much a project and one of its runs have spent so
// far, in dollars.
type Oracle interface {
	Cost(ctx context.Context, project, runID string) (projectTotal, runTotal float64, err error)
}

// StoreOracle prices the token counters accumulated in the chat audit
// tables with configured per-million-token rates.
type StoreOracle struct {
	store   *store.Store
	pricing config.PricingConfig
}

// NewStoreOracle creates an oracle over the given store and rates.
func NewStoreOracle(st *store.Store, pricing config.PricingConfig) *StoreOracle {
	return &StoreOracle{store: st, pricing: pricing}
}

func (o *StoreOracle) withStore(st *store.Store) *StoreOracle {
	return &StoreOracle{store: st, pricing: o.pricing}
}

// Cost sums and prices token usage for the project and the run.
func (o *StoreOracle) Cost(ctx context.Context, project, runID string) (float64, float64, error) {
	projectTotals, err := o.store.TokenTotalsByProject(ctx, project)
	if err != nil {
		return 0, 0, err
	}
	runTotals, err := o.store.TokenTotalsByRun(ctx, project, runID)
	if err != nil {
		return 0, 0, err
	}
	return o.price(projectTotals), o.price(runTotals), nil
}

func (o *StoreOracle) price(t *store.TokenTotals) float64 {
	const mtok = 1_000_000
	return float64(t.InputTokens)*o.pricing.InputPerMTok/mtok +
		float64(t.OutputTokens)*o.pricing.OutputPerMTok/mtok +
		float64(t.CachedTokens)*o.pricing.CachedPerMTok/mtok +
		float64(t.CacheCreationTokens)*o.pricing.CacheCreationPerMTok/mtok
}

// FixedOracle returns scripted totals, for tests.
type FixedOracle struct {
	ProjectTotal float64
	RunTotal     float64
}

func (o *FixedOracle) Cost(ctx context.Context, project, runID string) (float64, float64, error) {
	return o.ProjectTotal, o.RunTotal, nil
}
