package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"perq/native/common"
	"perq/native/rates"
)

// Kind tags the variant carried by an Account.
type Kind string

const (
	KindCard           Kind = "card"
	KindStake          Kind = "stake"
	KindPoolMembership Kind = "pool_membership"
	KindListing        Kind = "listing"
)

// Kinds lists every account kind in persistence order.
var Kinds = []Kind{KindCard, KindStake, KindPoolMembership, KindListing}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCard, KindStake, KindPoolMembership, KindListing:
		return true
	}
	return false
}

// ParseKind normalises user input ("cards", "Stake", "pool") into a Kind.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "card", "cards":
		return KindCard, nil
	case "stake", "stakes":
		return KindStake, nil
	case "pool", "pool_membership", "pool_memberships", "member", "members":
		return KindPoolMembership, nil
	case "listing", "listings", "marketplace":
		return KindListing, nil
	default:
		return "", fmt.Errorf("ledger: unknown account kind %q", raw)
	}
}

type StakeStatus string

const (
	StakeActive    StakeStatus = "active"
	StakeCompleted StakeStatus = "completed"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type ListingStatus string

const (
	ListingOpen   ListingStatus = "open"
	ListingFilled ListingStatus = "filled"
)

// Account is a points-holding entity. Exactly one of the variant payloads is
// set and it matches Kind. Points are the card balance, stake principal,
// pool contribution or listing quantity depending on the kind.
type Account struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Points    int64     `json:"points"`
	CreatedAt time.Time `json:"createdAt"`

	Card    *Card           `json:"card,omitempty"`
	Stake   *Stake          `json:"stake,omitempty"`
	Member  *PoolMembership `json:"member,omitempty"`
	Listing *Listing        `json:"listing,omitempty"`
}

// Card is a loyalty credit card. The CVV is never stored.
type Card struct {
	BankName       string           `json:"bankName"`
	CardType       string           `json:"cardType"`
	HolderName     string           `json:"holderName"`
	Number         string           `json:"number"`
	Expiry         string           `json:"expiry"`
	Brand          Brand            `json:"brand,omitempty"`
	Color          string           `json:"color,omitempty"`
	Rate           *decimal.Decimal `json:"rate,omitempty"`
	PointsExpireAt *time.Time       `json:"pointsExpireAt,omitempty"`
	ExpiringPoints int64            `json:"expiringPoints,omitempty"`
}

type Stake struct {
	OptionID    string          `json:"optionId"`
	Plan        string          `json:"plan"`
	APY         decimal.Decimal `json:"apy"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Earnings    int64           `json:"earnings"`
	Status      StakeStatus     `json:"status"`
	CardID      string          `json:"cardId,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Matured reports whether the lock period has elapsed at now.
func (s Stake) Matured(now time.Time) bool { return !now.Before(s.End) }

type PoolMembership struct {
	PoolID   string    `json:"poolId"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
	Role     Role      `json:"role"`
	Self     bool      `json:"self"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Listing struct {
	Side        Side            `json:"side"`
	PointsType  string          `json:"pointsType"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Total       decimal.Decimal `json:"total"`
	AuthorID    string          `json:"authorId"`
	AuthorName  string          `json:"authorName"`
	Verified    bool            `json:"verified"`
	Rating      float64         `json:"rating"`
	Description string          `json:"description,omitempty"`
	Status      ListingStatus   `json:"status"`
	FilledAt    *time.Time      `json:"filledAt,omitempty"`
}

// Value returns the currency value of a card's points using its own rate when
// one is set, otherwise def. Non-card accounts are worth zero.
func (a Account) Value(def decimal.Decimal) decimal.Decimal {
	if a.Kind != KindCard || a.Card == nil {
		return decimal.Zero
	}
	rate := def
	if a.Card.Rate != nil {
		rate = *a.Card.Rate
	}
	return rates.PointsToCurrency(a.Points, rate)
}

// Label is a short human name for the account.
func (a Account) Label() string {
	switch {
	case a.Card != nil:
		return a.Card.BankName + " " + a.Card.CardType
	case a.Stake != nil:
		return a.Stake.Plan
	case a.Member != nil:
		return a.Member.Name
	case a.Listing != nil:
		return string(a.Listing.Side) + " " + a.Listing.PointsType
	}
	return a.ID
}

// Clone returns a deep copy.
func (a Account) Clone() Account {
	out := a
	if a.Card != nil {
		card := *a.Card
		if a.Card.Rate != nil {
			rate := *a.Card.Rate
			card.Rate = &rate
		}
		if a.Card.PointsExpireAt != nil {
			at := *a.Card.PointsExpireAt
			card.PointsExpireAt = &at
		}
		out.Card = &card
	}
	if a.Stake != nil {
		stake := *a.Stake
		if a.Stake.CompletedAt != nil {
			at := *a.Stake.CompletedAt
			stake.CompletedAt = &at
		}
		out.Stake = &stake
	}
	if a.Member != nil {
		member := *a.Member
		out.Member = &member
	}
	if a.Listing != nil {
		listing := *a.Listing
		if a.Listing.FilledAt != nil {
			at := *a.Listing.FilledAt
			listing.FilledAt = &at
		}
		out.Listing = &listing
	}
	return out
}

// Validate checks the structural invariants shared by every account.
func (a Account) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return common.Invalid("id", common.CodeMissingField, "account id is required")
	}
	if !a.Kind.Valid() {
		return common.Invalid("kind", common.CodeInvalidFormat, "unknown account kind %q", a.Kind)
	}
	if a.Points < 0 {
		return common.Invalid("points", common.CodeInvalidAmount, "points must not be negative")
	}
	payloads := 0
	for _, set := range []bool{a.Card != nil, a.Stake != nil, a.Member != nil, a.Listing != nil} {
		if set {
			payloads++
		}
	}
	if payloads != 1 {
		return fmt.Errorf("%w: account %s carries %d payloads", ErrVariantMismatch, a.ID, payloads)
	}
	var ok bool
	switch a.Kind {
	case KindCard:
		ok = a.Card != nil
	case KindStake:
		ok = a.Stake != nil
	case KindPoolMembership:
		ok = a.Member != nil
	case KindListing:
		ok = a.Listing != nil
	}
	if !ok {
		return fmt.Errorf("%w: account %s is %s", ErrVariantMismatch, a.ID, a.Kind)
	}
	return nil
}

func cloneAccounts(in []Account) []Account {
	if in == nil {
		return nil
	}
	out := make([]Account, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
