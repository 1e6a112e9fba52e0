// models/member.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Member is a node of the sponsor forest. SponsorID is empty for a root.
type Member struct {
	ID            string     `json:"id" bson:"_id" db:"id"`
	SponsorID     string     `json:"sponsorId,omitempty" bson:"sponsorId,omitempty" db:"sponsor_id"`
	DisplayName   string     `json:"displayName" bson:"displayName" db:"display_name"`
	ReferralCode  string     `json:"referralCode" bson:"referralCode" db:"referral_code"`
	IsActive      bool       `json:"isActive" bson:"isActive" db:"is_active"`
	JoinedAt      time.Time  `json:"joinedAt" bson:"joinedAt" db:"joined_at"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty" bson:"deactivatedAt,omitempty" db:"deactivated_at"`
	UpdatedAt     time.Time  `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}

// IsRoot reports whether the member has no sponsor.
func (m Member) IsRoot() bool {
	return m.SponsorID == ""
}

// ActiveAt reports whether the member was active at t.
func (m Member) ActiveAt(t time.Time) bool {
	if m.JoinedAt.After(t) {
		return false
	}
	if m.IsActive {
		return true
	}
	return m.DeactivatedAt != nil && m.DeactivatedAt.After(t)
}

// RegisterMemberRequest is the body of POST /api/members
type RegisterMemberRequest struct {
	DisplayName         string `json:"displayName" validate:"required,max=120"`
	SponsorReferralCode string `json:"sponsorReferralCode,omitempty" validate:"omitempty,max=32"`
}

// AttachSponsorRequest is the body of POST /api/members/:id/sponsor
type AttachSponsorRequest struct {
	SponsorID     string `json:"sponsorId" validate:"required"`
	AllowReparent bool   `json:"allowReparent,omitempty"`
}

// MemberStatusRequest toggles a member's active flag
type MemberStatusRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

// MemberBalance is the fold of a member's ledger entries
type MemberBalance struct {
	MemberID string          `json:"memberId"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}
