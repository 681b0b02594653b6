package installment

import (
	"context"
	"strings"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/store"
)

// Filter selects plans for ListPlans. Category is either a derived
// category (review_needed, overdue, tolerance, upcoming) or a literal
// plan status.
type Filter struct {
	Category       string
	SubscriptionID string
	ClaimID        string
	SellerID       string
	Search         string
	Limit          int
}

// ParseCategory splits a category filter into a derived category or a
// plan status. Empty input matches every plan.
func ParseCategory(raw string) (store.PlanCategory, domain.PlanStatus, error) {
	switch c := store.PlanCategory(strings.ToLower(strings.TrimSpace(raw))); c {
	case "":
		return "", "", nil
	case store.CategoryReviewNeeded, store.CategoryOverdue, store.CategoryTolerance, store.CategoryUpcoming:
		return c, "", nil
	}
	switch st := domain.PlanStatus(strings.ToLower(strings.TrimSpace(raw))); st {
	case domain.PlanActive, domain.PlanCompleted, domain.PlanFrozen, domain.PlanCancelled:
		return "", st, nil
	}
	return "", "", errs.Validation(errs.CodeInvalidInput, "unknown plan category %q", raw)
}

// ListPlans returns plans matching f, oldest first.
func (s *Service) ListPlans(ctx context.Context, f Filter) ([]domain.Plan, error) {
	category, status, err := ParseCategory(f.Category)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return s.store.ListPlans(ctx, store.PlanQuery{
		Category:       category,
		Status:         status,
		SubscriptionID: strings.TrimSpace(f.SubscriptionID),
		ClaimID:        strings.TrimSpace(f.ClaimID),
		SellerID:       strings.TrimSpace(f.SellerID),
		Search:         strings.TrimSpace(f.Search),
		Today:          domain.Day(now, s.loc),
		UpcomingUntil:  domain.Day(now.Add(s.upcoming), s.loc),
		Limit:          f.Limit,
	})
}
