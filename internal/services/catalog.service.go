package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/provider"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/prom"
)

// CatalogService mirrors the upstream catalog into countries, plans and top-up plans.
type CatalogService struct {
	db      Transactor
	catalog CatalogRepository
	source  CatalogSource
}

func NewCatalogService(db Transactor, catalog CatalogRepository, source CatalogSource) *CatalogService {
	return &CatalogService{db: db, catalog: catalog, source: source}
}

func (s *CatalogService) ListPlans(ctx context.Context, f model.PlanFilter) ([]*model.Plan, error) {
	return s.catalog.ListPlans(ctx, f)
}

// Sync pulls both upstream listings and upserts them in one transaction.
// Plans the upstream no longer lists are deactivated, never deleted.
func (s *CatalogService) Sync(ctx context.Context) (*model.SyncReport, error) {
	start := time.Now()

	plans, err := s.source.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list upstream plans: %w", err)
	}
	topUps, err := s.source.ListTopUpPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list upstream top-up plans: %w", err)
	}

	report := &model.SyncReport{}
	countries := collectCountries(plans, topUps)

	err = s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		ids, err := s.catalog.UpsertCountries(ctx, countries)
		if err != nil {
			return fmt.Errorf("upsert countries: %w", err)
		}
		report.Countries = len(ids)

		var rows []*model.Plan
		keep := make([]string, 0, len(plans))
		for _, p := range plans {
			countryID, ok := ids[normalizeCode(p.CountryCode)]
			if p.ID == "" || !ok || !p.Price.IsPositive() {
				report.Skipped++
				continue
			}
			rows = append(rows, &model.Plan{
				ProviderPlanID: p.ID,
				CountryID:      countryID,
				Name:           p.Name,
				DataAmount:     p.DataAmount,
				ValidityDays:   p.ValidityDays,
				Price:          p.Price,
				IsActive:       true,
			})
			keep = append(keep, p.ID)
		}

		var topUpRows []*model.TopUpPlan
		for _, p := range topUps {
			countryID, ok := ids[normalizeCode(p.CountryCode)]
			if p.ID == "" || !ok || !p.Price.IsPositive() {
				report.Skipped++
				continue
			}
			topUpRows = append(topUpRows, &model.TopUpPlan{
				ProviderPlanID: p.ID,
				ProductID:      p.ProductID,
				CountryID:      countryID,
				Name:           p.Name,
				DataAmount:     p.DataAmount,
				ValidityDays:   p.ValidityDays,
				Price:          p.Price,
				IsActive:       true,
			})
		}

		if len(rows) > 0 {
			if _, err := s.catalog.UpsertPlans(ctx, rows); err != nil {
				return fmt.Errorf("upsert plans: %w", err)
			}
		}
		if len(topUpRows) > 0 {
			if _, err := s.catalog.UpsertTopUpPlans(ctx, topUpRows); err != nil {
				return fmt.Errorf("upsert top-up plans: %w", err)
			}
		}
		report.Plans = len(rows)
		report.TopUpPlans = len(topUpRows)

		report.DeactivatedPlans, err = s.catalog.DeactivatePlansExcept(ctx, keep)
		if err != nil {
			return fmt.Errorf("deactivate plans: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	prom.AddCatalogUpserts("plan", int64(report.Plans))
	prom.AddCatalogUpserts("topup_plan", int64(report.TopUpPlans))
	logger.Info("catalog synchronized",
		"countries", report.Countries,
		"plans", report.Plans,
		"top_up_plans", report.TopUpPlans,
		"deactivated", report.DeactivatedPlans,
		"skipped", report.Skipped,
		"duration", report.Duration)
	return report, nil
}

func collectCountries(plans []provider.CatalogPlan, topUps []provider.CatalogTopUpPlan) []model.Country {
	seen := make(map[string]bool)
	var out []model.Country
	add := func(code, name string) {
		code = normalizeCode(code)
		if code == "" || seen[code] {
			return
		}
		seen[code] = true
		if name == "" {
			name = code
		}
		out = append(out, model.Country{Code: code, Name: name})
	}
	for _, p := range plans {
		add(p.CountryCode, p.CountryName)
	}
	for _, p := range topUps {
		add(p.CountryCode, p.CountryName)
	}
	return out
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
