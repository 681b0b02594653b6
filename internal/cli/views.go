package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tally/internal/achievement"
	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/finance"
	"github.com/roach88/tally/internal/installment"
	"github.com/roach88/tally/internal/recon"
)

// JSON shapes printed by the commands. Domain types carry no JSON tags;
// these keep the CLI output stable independently of them.

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func stampPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return stamp(*t)
}

func nullDec(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.StringFixed(2)
	return &s
}

type paymentView struct {
	ID              string `json:"id"`
	Number          int    `json:"number"`
	Amount          string `json:"amount"`
	DueDate         string `json:"due_date"`
	Status          string `json:"status"`
	SubmittedAt     string `json:"submitted_at,omitempty"`
	SubmittedBy     string `json:"submitted_by,omitempty"`
	ReviewedAt      string `json:"reviewed_at,omitempty"`
	ReviewedBy      string `json:"reviewed_by,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	ToleranceUntil  string `json:"tolerance_until,omitempty"`
	ToleranceReason string `json:"tolerance_reason,omitempty"`
	Note            string `json:"note,omitempty"`
}

type planView struct {
	ID                string        `json:"id"`
	SubscriptionID    string        `json:"subscription_id"`
	ClaimID           string        `json:"claim_id,omitempty"`
	SellerID          string        `json:"seller_id"`
	Currency          string        `json:"currency"`
	TotalInstallments int           `json:"total_installments"`
	Status            string        `json:"status"`
	StatusReason      string        `json:"status_reason,omitempty"`
	NextDuePaymentID  string        `json:"next_due_payment_id,omitempty"`
	CreatedBy         string        `json:"created_by"`
	CreatedAt         string        `json:"created_at"`
	Payments          []paymentView `json:"payments,omitempty"`
}

func newPlanView(p domain.Plan, payments []domain.Payment) planView {
	v := planView{
		ID:                p.ID,
		SubscriptionID:    p.SubscriptionID,
		ClaimID:           p.ClaimID,
		SellerID:          p.SellerID,
		Currency:          p.Currency,
		TotalInstallments: p.TotalInstallments,
		Status:            string(p.Status),
		StatusReason:      p.StatusReason,
		NextDuePaymentID:  p.NextDuePaymentID,
		CreatedBy:         p.CreatedBy,
		CreatedAt:         stamp(p.CreatedAt),
	}
	for _, pay := range payments {
		v.Payments = append(v.Payments, paymentView{
			ID:              pay.ID,
			Number:          pay.PaymentNumber,
			Amount:          pay.Amount.StringFixed(2),
			DueDate:         pay.DueDate,
			Status:          string(pay.Status),
			SubmittedAt:     stampPtr(pay.SubmittedAt),
			SubmittedBy:     pay.SubmittedBy,
			ReviewedAt:      stampPtr(pay.ReviewedAt),
			ReviewedBy:      pay.ReviewedBy,
			RejectionReason: pay.RejectionReason,
			ToleranceUntil:  pay.ToleranceUntil,
			ToleranceReason: pay.ToleranceReason,
			Note:            pay.Note,
		})
	}
	return v
}

func viewOf(v installment.View) planView {
	return newPlanView(v.Plan, v.Payments)
}

func (v planView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s  subscription=%s seller=%s status=%s", v.ID, v.SubscriptionID, v.SellerID, v.Status)
	if v.NextDuePaymentID != "" {
		fmt.Fprintf(&b, " next_due=%s", v.NextDuePaymentID)
	}
	b.WriteString("\n")
	for _, p := range v.Payments {
		fmt.Fprintf(&b, "  #%d %s %s %s due %s\n", p.Number, p.ID, p.Amount, p.Status, p.DueDate)
	}
	return b.String()
}

type planList []planView

func (l planList) Text() string {
	if len(l) == 0 {
		return "no plans\n"
	}
	var b strings.Builder
	for _, p := range l {
		fmt.Fprintf(&b, "%s  %s  %s  %s\n", p.ID, p.SubscriptionID, p.SellerID, p.Status)
	}
	return b.String()
}

type achievementView struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	SellerID  string `json:"seller_id,omitempty"`
	Title     string `json:"title"`
	DedupeKey string `json:"dedupe_key"`
	Payload   any    `json:"payload"`
	CreatedAt string `json:"created_at"`
}

type achievementList []achievementView

func newAchievementList(recs []achievement.Record) achievementList {
	out := make(achievementList, 0, len(recs))
	for _, r := range recs {
		out = append(out, achievementView{
			ID:        r.ID,
			Type:      string(r.Type),
			SellerID:  r.SellerID,
			Title:     r.Title,
			DedupeKey: r.DedupeKey,
			Payload:   r.Payload,
			CreatedAt: stamp(r.CreatedAt),
		})
	}
	return out
}

func (l achievementList) Text() string {
	if len(l) == 0 {
		return "no achievements\n"
	}
	var b strings.Builder
	for _, a := range l {
		fmt.Fprintf(&b, "%s  %-17s %s\n", a.CreatedAt, a.Type, a.Title)
	}
	return b.String()
}

type eventView struct {
	ID             int64         `json:"id"`
	Type           string        `json:"type"`
	SubscriptionID string        `json:"subscription_id,omitempty"`
	Actor          string        `json:"actor,omitempty"`
	BusinessKey    string        `json:"business_key,omitempty"`
	Payload        event.Payload `json:"payload"`
	CreatedAt      string        `json:"created_at"`
}

type eventList []eventView

func newEventList(events []event.Event) eventList {
	out := make(eventList, 0, len(events))
	for _, ev := range events {
		out = append(out, eventView{
			ID:             ev.ID,
			Type:           string(ev.Kind()),
			SubscriptionID: ev.SubscriptionID,
			Actor:          ev.Actor,
			BusinessKey:    ev.BusinessKey,
			Payload:        ev.Payload,
			CreatedAt:      stamp(ev.CreatedAt),
		})
	}
	return out
}

func (l eventList) Text() string {
	var b strings.Builder
	for _, ev := range l {
		fmt.Fprintf(&b, "%d  %s  %s  %s\n", ev.ID, ev.CreatedAt, ev.Type, ev.BusinessKey)
	}
	return b.String()
}

type ledgerView struct {
	SubscriptionID        string  `json:"subscription_id"`
	UserID                string  `json:"user_id"`
	CampaignID            string  `json:"campaign_id"`
	Status                string  `json:"status"`
	ExclusionReason       string  `json:"exclusion_reason,omitempty"`
	DuplicateOf           string  `json:"duplicate_of,omitempty"`
	RevenueUSD            *string `json:"revenue_usd"`
	ClaimedBy             string  `json:"claimed_by,omitempty"`
	ClaimedAt             string  `json:"claimed_at,omitempty"`
	SubscriptionCreatedAt string  `json:"subscription_created_at"`
}

type ledgerList []ledgerView

func newLedgerView(e domain.LedgerEntry) ledgerView {
	return ledgerView{
		SubscriptionID:        e.SubscriptionID,
		UserID:                e.UserID,
		CampaignID:            e.CampaignID,
		Status:                string(e.Status),
		ExclusionReason:       e.ExclusionReason,
		DuplicateOf:           e.DuplicateOf,
		RevenueUSD:            nullDec(e.RevenueUSD),
		ClaimedBy:             e.ClaimedBy,
		ClaimedAt:             stampPtr(e.ClaimedAt),
		SubscriptionCreatedAt: stamp(e.SubscriptionCreatedAt),
	}
}

func (l ledgerList) Text() string {
	if len(l) == 0 {
		return "no ledger entries\n"
	}
	var b strings.Builder
	for _, e := range l {
		revenue := "-"
		if e.RevenueUSD != nil {
			revenue = *e.RevenueUSD
		}
		fmt.Fprintf(&b, "%s  %-8s %10s  %s\n", e.SubscriptionID, e.Status, revenue, e.ClaimedBy)
	}
	return b.String()
}

type metricsView struct {
	RevenueUSD      *string `json:"revenue_usd"`
	CostUSD         string  `json:"cost_usd"`
	MarginAmountUSD *string `json:"margin_amount_usd"`
	MarginPercent   *string `json:"margin_percent"`
	IsJackpot       bool    `json:"is_jackpot"`
	CurrencySource  string  `json:"currency_source"`
}

func newMetricsView(m finance.Metrics) metricsView {
	v := metricsView{
		RevenueUSD:      nullDec(m.RevenueUSD),
		CostUSD:         m.CostUSD.StringFixed(2),
		MarginAmountUSD: nullDec(m.MarginAmountUSD),
		IsJackpot:       m.IsJackpot,
		CurrencySource:  string(m.CurrencySource),
	}
	if m.MarginPercent.Valid {
		s := m.MarginPercent.Decimal.StringFixed(4)
		v.MarginPercent = &s
	}
	return v
}

func (v metricsView) Text() string {
	str := func(p *string) string {
		if p == nil {
			return "n/a"
		}
		return *p
	}
	return fmt.Sprintf("revenue_usd=%s cost_usd=%s margin_usd=%s margin_pct=%s jackpot=%t source=%s\n",
		str(v.RevenueUSD), v.CostUSD, str(v.MarginAmountUSD), str(v.MarginPercent), v.IsJackpot, v.CurrencySource)
}

type tickView struct {
	Processed int      `json:"processed"`
	Inserted  int      `json:"inserted"`
	Excluded  int      `json:"excluded"`
	Jackpots  int      `json:"jackpots"`
	Skipped   int      `json:"skipped"`
	Cursor    string   `json:"cursor"`
	CursorID  string   `json:"cursor_id,omitempty"`
	Jobs      []string `json:"jobs"`
}

func newTickView(r recon.TickResult) tickView {
	jobs := r.Jobs
	if jobs == nil {
		jobs = []string{}
	}
	return tickView{
		Processed: r.Processed,
		Inserted:  r.Inserted,
		Excluded:  r.Excluded,
		Jackpots:  r.Jackpots,
		Skipped:   r.Skipped,
		Cursor:    r.Cursor.UTC().Format(time.RFC3339Nano),
		CursorID:  r.CursorID,
		Jobs:      jobs,
	}
}

func (v tickView) Text() string {
	return fmt.Sprintf("processed=%d inserted=%d excluded=%d jackpots=%d skipped=%d cursor=%s jobs=%v\n",
		v.Processed, v.Inserted, v.Excluded, v.Jackpots, v.Skipped, v.Cursor, v.Jobs)
}
