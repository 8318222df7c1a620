package tripapi

import (
	"time"

	"github.com/richxcame/driver-agent/internal/trips"
)

// Stats is the driver's dashboard summary
type Stats struct {
	TotalTrips     int     `json:"total_trips"`
	CompletedToday int     `json:"completed_today"`
	Rating         float64 `json:"rating"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	OnlineHours    float64 `json:"online_hours"`
	TodayEarnings  float64 `json:"today_earnings"`
	Currency       string  `json:"currency"`
}

// EarningsDay is one day of an earnings breakdown
type EarningsDay struct {
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
	Trips  int     `json:"trips"`
}

// Earnings summarizes income for a period
type Earnings struct {
	Period    string        `json:"period"`
	Total     float64       `json:"total"`
	Fares     float64       `json:"fares"`
	Tips      float64       `json:"tips"`
	Trips     int           `json:"trips"`
	Currency  string        `json:"currency"`
	Breakdown []EarningsDay `json:"breakdown"`
}

// HistoryPage is one page of past trips
type HistoryPage struct {
	Trips   []*trips.UnifiedRequest `json:"trips"`
	Page    int                     `json:"page"`
	PerPage int                     `json:"per_page"`
	Total   int64                   `json:"total"`
}

// Session is the result of a successful login
type Session struct {
	Token     string    `json:"token"`
	DriverID  string    `json:"driver_id"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Valid earnings periods
const (
	PeriodToday = "today"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// ValidPeriod reports whether p is a supported earnings period.
func ValidPeriod(p string) bool {
	return p == PeriodToday || p == PeriodWeek || p == PeriodMonth
}
