// models/network.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MemberSummary is one node of a network snapshot tree
type MemberSummary struct {
	ID            string           `json:"id"`
	DisplayName   string           `json:"displayName"`
	ReferralCode  string           `json:"referralCode"`
	IsActive      bool             `json:"isActive"`
	Earnings      decimal.Decimal  `json:"earnings"`
	ReferralCount int              `json:"referralCount"` // direct referrals the snapshot would list
	JoinedAt      time.Time        `json:"joinedAt"`
	Children      []*MemberSummary `json:"children,omitempty"`
}

// NetworkSnapshot is the response of getNetworkSnapshot
type NetworkSnapshot struct {
	Root              *MemberSummary `json:"root"`
	Depth             int            `json:"depth"`
	IncludeInactive   bool           `json:"includeInactive"`
	TotalMembers      int            `json:"totalMembers"`
	DepthLimitReached bool           `json:"depthLimitReached"`
}

// DateRange is a closed window [From, To]
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// LevelTotal is the amount credited at one level
type LevelTotal struct {
	Level  int             `json:"level"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// Earner is a leaderboard row
type Earner struct {
	MemberID    string          `json:"memberId"`
	DisplayName string          `json:"displayName,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// CommissionTotals aggregates ledger credits over a window
type CommissionTotals struct {
	Total           decimal.Decimal `json:"total"`
	ByLevel         []LevelTotal    `json:"byLevel"`
	EventsProcessed int             `json:"eventsProcessed"`
}

// AnalyticsOverview is the response of getAnalyticsOverview
type AnalyticsOverview struct {
	Range             DateRange       `json:"range"`
	TotalMembers      int             `json:"totalMembers"`
	ActiveMembers     int             `json:"activeMembers"`
	NewMembers        int             `json:"newMembers"`
	ActivationRate    float64         `json:"activationRate"`
	RetentionRate     float64         `json:"retentionRate"`
	NetworkDepth      int             `json:"networkDepth"`
	TotalCommission   decimal.Decimal `json:"totalCommission"`
	CommissionByLevel []LevelTotal    `json:"commissionByLevel"`
	EventsProcessed   int             `json:"eventsProcessed"`
	TopEarners        []Earner        `json:"topEarners"`
	DepthLimitReached bool            `json:"depthLimitReached"`
	GeneratedAt       time.Time       `json:"generatedAt"`
}

// TeamStats is the per-member analytics response
type TeamStats struct {
	MemberID          string          `json:"memberId"`
	TeamSize          int             `json:"teamSize"`
	TeamEarnings      decimal.Decimal `json:"teamEarnings"`
	Depth             int             `json:"depth"`
	DirectReferrals   int             `json:"directReferrals"`
	DepthLimitReached bool            `json:"depthLimitReached"`
}

// MemberCounts is the member-level input of the analytics overview.
// Cohort is everyone who joined before the window start; Retained is the part
// of the cohort still active at the window end.
type MemberCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Joined   int `json:"joined"`
	Cohort   int `json:"cohort"`
	Retained int `json:"retained"`
}
