// Package app wires the reconciliation service from configuration.
package app

import (
	"go.uber.org/zap"

	"settlement-reconciliation-engine/internal/config"
	"settlement-reconciliation-engine/internal/parsers"
	"settlement-reconciliation-engine/internal/ports"
	service "settlement-reconciliation-engine/internal/services/reconciliation"
	"settlement-reconciliation-engine/internal/services/matching"
	"settlement-reconciliation-engine/internal/services/resolution"
)

// NewRegistry returns the parser registry for the configured locale.
func NewRegistry(cfg *config.Config) *parsers.Registry {
	return parsers.DefaultRegistry(parsers.Options{
		Location: cfg.Reconciliation.Location,
		Currency: cfg.Reconciliation.Currency,
	})
}

func NewService(cfg *config.Config, store ports.Store, docs ports.DocumentStore, log *zap.Logger) *service.ReconciliationService {
	rc := cfg.Reconciliation
	return service.NewReconciliationService(service.Deps{
		Store:     store,
		Documents: docs,
		Registry:  NewRegistry(cfg),
		Engine:    matching.NewEngine(rc.MatchingConfig()),
		Policy:    resolution.NewPolicy(rc.ResolutionConfig()),
		Logger:    log,
	}, service.Options{
		Currency:       rc.Currency,
		Workers:        rc.Workers,
		LockTTL:        rc.LockTTL,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
}
