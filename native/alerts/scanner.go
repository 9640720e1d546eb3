// Package alerts derives expiring-points and stake-maturity notifications
// from a ledger snapshot.
package alerts

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"perq/native/ledger"
	"perq/native/rates"
)

// DefaultUrgentDays is the window inside which an expiry becomes urgent.
const DefaultUrgentDays = 7

// DaysRemaining returns the number of started days between now and expiry.
// It goes negative once expiry has passed.
func DaysRemaining(now, expiry time.Time) int {
	return rates.DaysUntil(now, expiry)
}

// ExpiryAlert warns about points that lapse on a card.
type ExpiryAlert struct {
	ID             string          `json:"id"`
	CardID         string          `json:"cardId"`
	CardName       string          `json:"cardName"`
	BankName       string          `json:"bankName"`
	PointsExpiring int64           `json:"pointsExpiring"`
	Value          decimal.Decimal `json:"value"`
	ExpiryDate     time.Time       `json:"expiryDate"`
	DaysRemaining  int             `json:"daysRemaining"`
	Urgent         bool            `json:"urgent"`
}

// StakeProgress tracks an active stake towards its unlock date.
type StakeProgress struct {
	StakeID       string    `json:"stakeId"`
	Plan          string    `json:"plan"`
	Points        int64     `json:"points"`
	Earnings      int64     `json:"earnings"`
	End           time.Time `json:"end"`
	DaysRemaining int       `json:"daysRemaining"`
	Progress      float64   `json:"progress"`
	Matured       bool      `json:"matured"`
}

// Progress returns the elapsed share of [start, end] as a percentage clamped
// to 0..100.
func Progress(now, start, end time.Time) float64 {
	total := end.Sub(start)
	if total <= 0 {
		return 100
	}
	pct := float64(now.Sub(start)) / float64(total) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// Report is the outcome of one scan.
type Report struct {
	GeneratedAt time.Time       `json:"generatedAt"`
	Alerts      []ExpiryAlert   `json:"alerts"`
	Stakes      []StakeProgress `json:"stakes"`
	// ExpiringSoon sums the points of every alert.
	ExpiringSoon int64 `json:"expiringSoon"`
	Urgent       int   `json:"urgent"`
	Matured      int   `json:"matured"`
}

// Source is the read side of the ledger the scanner needs.
type Source interface {
	Accounts(kind ledger.Kind) []ledger.Account
	Rate() decimal.Decimal
}

// Scanner builds reports on demand.
type Scanner struct {
	source     Source
	urgentDays int
	nowFn      func() time.Time
}

// ScannerOption customises a Scanner.
type ScannerOption func(*Scanner)

// WithUrgentDays overrides DefaultUrgentDays. Non-positive values are ignored.
func WithUrgentDays(days int) ScannerOption {
	return func(s *Scanner) {
		if days > 0 {
			s.urgentDays = days
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) ScannerOption {
	return func(s *Scanner) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewScanner returns a scanner reading from source.
func NewScanner(source Source, opts ...ScannerOption) *Scanner {
	s := &Scanner{source: source, urgentDays: DefaultUrgentDays, nowFn: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UrgentDays reports the configured urgency window.
func (s *Scanner) UrgentDays() int { return s.urgentDays }

// Scan inspects every card with a points expiry date and every active stake.
func (s *Scanner) Scan() Report {
	now := s.nowFn()
	rate := s.source.Rate()
	report := Report{GeneratedAt: now, Alerts: []ExpiryAlert{}, Stakes: []StakeProgress{}}

	for _, card := range s.source.Accounts(ledger.KindCard) {
		if card.Card == nil || card.Card.PointsExpireAt == nil {
			continue
		}
		points := card.Card.ExpiringPoints
		if points <= 0 {
			points = card.Points
		}
		if points <= 0 {
			continue
		}
		expiry := *card.Card.PointsExpireAt
		days := DaysRemaining(now, expiry)
		cardRate := rate
		if card.Card.Rate != nil {
			cardRate = *card.Card.Rate
		}
		alert := ExpiryAlert{
			ID:             "expiry-" + card.ID,
			CardID:         card.ID,
			CardName:       card.Label(),
			BankName:       card.Card.BankName,
			PointsExpiring: points,
			Value:          rates.PointsToCurrency(points, cardRate),
			ExpiryDate:     expiry,
			DaysRemaining:  days,
			Urgent:         days <= s.urgentDays,
		}
		report.Alerts = append(report.Alerts, alert)
		report.ExpiringSoon += points
		if alert.Urgent {
			report.Urgent++
		}
	}
	sort.SliceStable(report.Alerts, func(i, j int) bool {
		return report.Alerts[i].DaysRemaining < report.Alerts[j].DaysRemaining
	})

	for _, account := range s.source.Accounts(ledger.KindStake) {
		stake := account.Stake
		if stake == nil || stake.Status != ledger.StakeActive {
			continue
		}
		progress := StakeProgress{
			StakeID:       account.ID,
			Plan:          stake.Plan,
			Points:        account.Points,
			Earnings:      stake.Earnings,
			End:           stake.End,
			DaysRemaining: max(DaysRemaining(now, stake.End), 0),
			Progress:      Progress(now, stake.Start, stake.End),
			Matured:       stake.Matured(now),
		}
		if progress.Matured {
			report.Matured++
		}
		report.Stakes = append(report.Stakes, progress)
	}
	sort.SliceStable(report.Stakes, func(i, j int) bool {
		return report.Stakes[i].End.Before(report.Stakes[j].End)
	})
	return report
}
