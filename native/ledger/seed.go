package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// SeedData is the demo portfolio loaded when a collection was never written.
type SeedData struct {
	Cards    []Account
	Stakes   []Account
	Members  []Account
	Listings []Account
	Pool     *Pool
}

func (s SeedData) accounts(kind Kind) []Account {
	switch kind {
	case KindCard:
		return s.Cards
	case KindStake:
		return s.Stakes
	case KindPoolMembership:
		return s.Members
	case KindListing:
		return s.Listings
	}
	return nil
}

const (
	day = 24 * time.Hour

	seedPoolID = "pool-sharma"
)

// Seed builds the demo data relative to now.
func Seed(now time.Time) SeedData {
	now = now.UTC()
	at := func(d time.Duration) *time.Time {
		t := now.Add(d)
		return &t
	}
	card := func(id, bank, kind, holder, number, expiry, color string, points int64) Account {
		return Account{
			ID:        id,
			Kind:      KindCard,
			Points:    points,
			CreatedAt: now,
			Card: &Card{
				BankName:   bank,
				CardType:   kind,
				HolderName: holder,
				Number:     number,
				Expiry:     expiry,
				Brand:      DetectBrand(number),
				Color:      color,
			},
		}
	}

	hdfc := card("1", "HDFC Bank", "Regalia", "RAHUL SHARMA", "4532123456789012", "12/26", "#1a237e", 45680)
	hdfc.Card.PointsExpireAt = at(15 * day)
	hdfc.Card.ExpiringPoints = 12000

	sbi := card("3", "SBI Card", "Elite", "AMIT KUMAR", "6011234567890123", "03/25", "#b71c1c", 18900)
	sbi.Card.PointsExpireAt = at(7 * day)
	sbi.Card.ExpiringPoints = 8500

	cards := []Account{
		hdfc,
		card("2", "ICICI Bank", "Sapphiro", "PRIYA PATEL", "5425234567890123", "08/27", "#004d40", 32450),
		sbi,
		card("4", "Axis Bank", "Magnus", "NEHA SINGH", "3782822463100051", "11/28", "#4a148c", 67890),
		card("5", "Citi Bank", "Prestige", "VIKRAM RAO", "5412753456789012", "06/26", "#004d40", 28340),
	}

	listing := func(id, authorID, author string, verified bool, rating float64, side Side, pointsType string, points int64, price, desc string, age time.Duration) Account {
		unit := decimal.RequireFromString(price)
		return Account{
			ID:        id,
			Kind:      KindListing,
			Points:    points,
			CreatedAt: now.Add(-age),
			Listing: &Listing{
				Side:        side,
				PointsType:  pointsType,
				UnitPrice:   unit,
				Total:       unit.Mul(decimal.NewFromInt(points)),
				AuthorID:    authorID,
				AuthorName:  author,
				Verified:    verified,
				Rating:      rating,
				Description: desc,
				Status:      ListingOpen,
			},
		}
	}
	listings := []Account{
		listing("m1", "u1", "Rajesh M.", true, 4.8, SideSell, "HDFC Rewards", 25000, "0.22",
			"Selling HDFC reward points. Quick transfer. Verified seller.", 2*day),
		listing("m2", "u2", "Sanjay K.", true, 4.9, SideBuy, "ICICI Rewards", 50000, "0.20",
			"Looking to buy ICICI reward points. Instant payment.", day),
		listing("m3", "u3", "Priya S.", false, 4.2, SideSell, "SBI Rewards", 15000, "0.18",
			"SBI reward points available. New seller.", 5*time.Hour),
		listing("m4", "u4", "Amit D.", true, 5.0, SideSell, "Axis Rewards", 40000, "0.25",
			"Premium Axis Magnus points. Fast transfer guaranteed.", 3*day),
	}

	created := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	member := func(id, name, email string, role Role, self bool, points int64) Account {
		return Account{
			ID:        id,
			Kind:      KindPoolMembership,
			Points:    points,
			CreatedAt: created,
			Member: &PoolMembership{
				PoolID:   seedPoolID,
				Name:     name,
				Email:    email,
				Role:     role,
				Self:     self,
				JoinedAt: created,
			},
		}
	}
	members := []Account{
		member("member-1", "Rahul Sharma", "rahul@example.com", RoleAdmin, true, 45680),
		member("member-2", "Priya Sharma", "priya@example.com", RoleMember, false, 32450),
		member("member-3", "Amit Sharma", "amit@example.com", RoleMember, false, 18900),
	}

	return SeedData{
		Cards:    cards,
		Stakes:   []Account{},
		Members:  members,
		Listings: listings,
		Pool: &Pool{
			ID:                  seedPoolID,
			Name:                "Sharma Family Pool",
			BonusMultiplier:     decimal.RequireFromString("1.25"),
			TotalPoints:         97030,
			MonthlyContribution: 15000,
			CreatedAt:           created,
		},
	}
}

func emptySeed() SeedData {
	return SeedData{
		Cards:    []Account{},
		Stakes:   []Account{},
		Members:  []Account{},
		Listings: []Account{},
	}
}
