package simulator

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"perq/config"
	"perq/native/common"
	"perq/native/ledger"
	"perq/native/rates"
)

// Kind names an operation.
type Kind string

const (
	KindRedeem     Kind = "redeem"
	KindStake      Kind = "stake"
	KindUnstake    Kind = "unstake"
	KindContribute Kind = "contribute"
	KindConvert    Kind = "convert"
	KindClaim      Kind = "claim"
	KindTrade      Kind = "trade"
)

// Operation is one of the typed requests below.
type Operation interface {
	Kind() Kind
	module() string
	// target names the account the request is about; two pending requests
	// of the same kind on the same target are duplicates.
	target() string
	amount() int64
	apply(env *env, tx *ledger.Tx) (*Receipt, error)
}

type env struct {
	catalog *config.Catalog
	rate    decimal.Decimal
}

// Redeem spends points, optionally from one card or for a catalog reward.
type Redeem struct {
	CardID       string `json:"cardId,omitempty"`
	Points       int64  `json:"points"`
	RedemptionID string `json:"redemptionId,omitempty"`
}

func (Redeem) Kind() Kind       { return KindRedeem }
func (Redeem) module() string   { return common.ModuleRedemption }
func (op Redeem) amount() int64 { return op.Points }
func (op Redeem) target() string { return accountKey(op.CardID) }

// accountKey names the account an operation draws from: the card when one is
// given, otherwise the whole portfolio.
func accountKey(cardID string) string {
	if cardID != "" {
		return cardID
	}
	return "portfolio"
}

func (op Redeem) apply(env *env, tx *ledger.Tx) (*Receipt, error) {
	points := op.Points
	message := "points redeemed"
	if op.RedemptionID != "" {
		reward, err := env.catalog.QuickRedemption(op.RedemptionID)
		if err != nil {
			return nil, common.Invalid("redemptionId", common.CodeNotFound, "unknown redemption %q", op.RedemptionID)
		}
		if points == 0 {
			points = reward.Points
		}
		if points != reward.Points {
			return nil, common.Invalid("points", common.CodeInvalidAmount, "%s costs %d points", reward.Title, reward.Points)
		}
		message = "redeemed " + reward.Title
	}
	if err := common.CheckAmount("points", points, tx.Totals().Available); err != nil {
		return nil, err
	}
	debits, err := tx.Debit(points, op.CardID)
	if err != nil {
		return nil, err
	}
	value := rates.PointsToCurrency(points, env.rate)
	return &Receipt{Message: message, Debits: debits, CurrencyValue: &value}, nil
}

// Stake locks points into a catalog staking option.
type Stake struct {
	OptionID string `json:"optionId"`
	Points   int64  `json:"points"`
	CardID   string `json:"cardId,omitempty"`
}

func (Stake) Kind() Kind        { return KindStake }
func (Stake) module() string    { return common.ModuleStaking }
func (op Stake) amount() int64  { return op.Points }
func (op Stake) target() string { return accountKey(op.CardID) }

func (op Stake) apply(env *env, tx *ledger.Tx) (*Receipt, error) {
	option, err := env.catalog.StakeOption(op.OptionID)
	if err != nil {
		return nil, common.Invalid("optionId", common.CodeNotFound, "unknown staking option %q", op.OptionID)
	}
	if op.Points < option.MinimumPoints {
		return nil, common.Invalid("points", common.CodeBelowMinimum, "minimum stake for %s is %d points", option.Name, option.MinimumPoints)
	}
	if err := common.CheckAmount("points", op.Points, tx.Totals().Available); err != nil {
		return nil, err
	}
	if op.CardID != "" {
		if card, ok := tx.Account(op.CardID); !ok || card.Kind != ledger.KindCard {
			return nil, common.Invalid("cardId", common.CodeNotFound, "card %s not found", op.CardID)
		}
	}
	start := tx.Now()
	end := start.AddDate(0, 0, option.DurationDays)
	earnings := rates.StakingProjection(op.Points, option.APY())
	stake, err := tx.Add(ledger.Account{
		Kind:   ledger.KindStake,
		Points: op.Points,
		Stake: &ledger.Stake{
			OptionID: option.ID,
			Plan:     option.Name,
			APY:      option.APY(),
			Start:    start,
			End:      end,
			Earnings: earnings,
			Status:   ledger.StakeActive,
			CardID:   op.CardID,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Receipt{
		Message:     fmt.Sprintf("staked in %s", option.Name),
		StakeID:     stake.ID,
		EndsAt:      &end,
		Earnings:    earnings,
		TotalReturn: op.Points + earnings,
	}, nil
}

// Unstake completes a matured stake and pays out its earnings.
type Unstake struct {
	StakeID string `json:"stakeId"`
}

func (Unstake) Kind() Kind        { return KindUnstake }
func (Unstake) module() string    { return common.ModuleStaking }
func (Unstake) amount() int64     { return 0 }
func (op Unstake) target() string { return op.StakeID }

func (op Unstake) apply(env *env, tx *ledger.Tx) (*Receipt, error) {
	account, ok := tx.Account(op.StakeID)
	if !ok || account.Kind != ledger.KindStake {
		return nil, common.Invalid("stakeId", common.CodeNotFound, "stake %s not found", op.StakeID)
	}
	stake := account.Stake
	if stake.Status == ledger.StakeCompleted {
		return nil, common.Invalid("stakeId", common.CodeAlreadySettled, "stake already completed")
	}
	now := tx.Now()
	if !stake.Matured(now) {
		return nil, common.Invalid("stakeId", common.CodeEarlyWithdrawal, "stake unlocks on %s", stake.End.Format(time.DateOnly))
	}
	err := tx.Update(op.StakeID, func(a *ledger.Account) error {
		a.Stake.Status = ledger.StakeCompleted
		a.Stake.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	credit, err := tx.Credit(stake.Earnings, stake.CardID)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		Message:     fmt.Sprintf("%s stake completed", stake.Plan),
		StakeID:     op.StakeID,
		Credits:     []ledger.Movement{credit},
		Earnings:    stake.Earnings,
		TotalReturn: account.Points + stake.Earnings,
	}, nil
}

// Contribute moves available points into the family pool.
type Contribute struct {
	Points int64 `json:"points"`
}

func (Contribute) Kind() Kind       { return KindContribute }
func (Contribute) module() string   { return common.ModulePooling }
func (Contribute) target() string   { return "pool" }
func (op Contribute) amount() int64 { return op.Points }

func (op Contribute) apply(env *env, tx *ledger.Tx) (*Receipt, error) {
	if _, ok := tx.Pool(); !ok {
		return nil, common.Invalid("pool", common.CodeNotFound, "create or join a family pool first")
	}
	self, ok := tx.SelfMembership()
	if !ok {
		return nil, common.Invalid("pool", common.CodeNotEligible, "you are not a member of this pool")
	}
	if err := common.CheckAmount("points", op.Points, tx.Totals().Available); err != nil {
		return nil, err
	}
	if err := tx.Update(self.ID, ledger.AddPoints(op.Points)); err != nil {
		return nil, err
	}
	pool, _ := tx.Pool()
	return &Receipt{
		Message:   fmt.Sprintf("contributed %s points", rates.FormatInteger(op.Points)),
		PoolTotal: pool.TotalPoints,
	}, nil
}

// Convert exchanges points for a crypto asset.
type Convert struct {
	Asset  string `json:"asset"`
	Points int64  `json:"points"`
}

func (Convert) Kind() Kind        { return KindConvert }
func (Convert) module() string    { return common.ModuleCrypto }
func (op Convert) amount() int64  { return op.Points }
func (op Convert) target() string { return accountKey("") }

func (op Convert) apply(env *env, tx *ledger.Tx) (*Receipt, error) {
	asset, err := env.catalog.Asset(op.Asset)
	if err != nil {
		return nil, common.Invalid("asset", common.CodeNotFound, "unknown asset %q", op.Asset)
	}
	if op.Points < asset.MinimumPoints {
		return nil, common.Invalid("points", common.CodeBelowMinimum, "minimum conversion for %s is %d points", asset.Symbol, asset.MinimumPoints)
	}
	if err := common.CheckAmount("points", op.Points, tx.Totals().Available); err != nil {
		return nil, err
	}
	debits, err := tx.Debit(op.Points, "")
	if err != nil {
		return nil, err
	}
	crypto := rates.PointsToCrypto(op.Points, asset.PointsPerCrypto())
	value := rates.CryptoToCurrency(crypto, asset.UnitPrice())
	return &Receipt{
		Message:       fmt.Sprintf("converted to %s %s", crypto.String(), asset.Symbol),
		Debits:        debits,
		Asset:         asset.Symbol,
		CryptoAmount:  &crypto,
		CurrencyValue: &value,
	}, nil
}

// Claim collects an unlocked achievement reward.
type Claim struct {
	AchievementID string `json:"achievementId"`
}

func (Claim) Kind() Kind        { return KindClaim }
func (Claim) module() string    { return common.ModuleRewards }
func (Claim) amount() int64     { return 0 }
func (op Claim) target() string { return op.AchievementID }

func (op Claim) apply(env *env, tx *ledger.Tx) (*Receipt, error) {
	achievement, err := env.catalog.Achievement(op.AchievementID)
	if err != nil {
		return nil, common.Invalid("achievementId", common.CodeNotFound, "unknown achievement %q", op.AchievementID)
	}
	profile := tx.Profile()
	if profile.Claimed(achievement.ID) {
		return nil, common.Invalid("achievementId", common.CodeAlreadySettled, "%s already claimed", achievement.Title)
	}
	if progress := tx.Stats().Value(achievement.Metric); progress < achievement.Target {
		return nil, common.Invalid("achievementId", common.CodeNotEligible, "%s is %d/%d complete", achievement.Title, progress, achievement.Target)
	}
	profile.ClaimedAchievements = append(profile.ClaimedAchievements, achievement.ID)
	tx.SetProfile(profile)
	credit, err := tx.Credit(achievement.Reward, "")
	if err != nil {
		return nil, err
	}
	return &Receipt{
		Message: fmt.Sprintf("claimed %s", achievement.Title),
		Credits: []ledger.Movement{credit},
	}, nil
}

// Trade fills an open marketplace listing.
type Trade struct {
	ListingID string `json:"listingId"`
}

func (Trade) Kind() Kind        { return KindTrade }
func (Trade) module() string    { return common.ModuleMarketplace }
func (Trade) amount() int64     { return 0 }
func (op Trade) target() string { return op.ListingID }

func (op Trade) apply(env *env, tx *ledger.Tx) (*Receipt, error) {
	account, ok := tx.Account(op.ListingID)
	if !ok || account.Kind != ledger.KindListing {
		return nil, common.Invalid("listingId", common.CodeNotFound, "listing %s not found", op.ListingID)
	}
	listing := account.Listing
	if listing.Status == ledger.ListingFilled {
		return nil, common.Invalid("listingId", common.CodeAlreadySettled, "listing already filled")
	}
	if listing.AuthorID == ledger.CurrentUserID {
		return nil, common.Invalid("listingId", common.CodeNotEligible, "cannot trade on your own listing")
	}
	receipt := &Receipt{CurrencyValue: &listing.Total}
	switch listing.Side {
	case ledger.SideSell:
		credit, err := tx.Credit(account.Points, "")
		if err != nil {
			return nil, err
		}
		receipt.Credits = []ledger.Movement{credit}
		receipt.Message = fmt.Sprintf("bought %s %s", rates.FormatInteger(account.Points), listing.PointsType)
	case ledger.SideBuy:
		if err := common.CheckAmount("points", account.Points, tx.Totals().Available); err != nil {
			return nil, err
		}
		debits, err := tx.Debit(account.Points, "")
		if err != nil {
			return nil, err
		}
		receipt.Debits = debits
		receipt.Message = fmt.Sprintf("sold %s points to %s", rates.FormatInteger(account.Points), listing.AuthorName)
	}
	now := tx.Now()
	err := tx.Update(op.ListingID, func(a *ledger.Account) error {
		a.Listing.Status = ledger.ListingFilled
		a.Listing.FilledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Decode builds an Operation from its kind and a flat set of fields, the
// shape used by the CLI and the HTTP API.
func Decode(kind string, fields OperationFields) (Operation, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindRedeem:
		return Redeem{CardID: fields.CardID, Points: fields.Points, RedemptionID: fields.RedemptionID}, nil
	case KindStake:
		return Stake{OptionID: fields.OptionID, Points: fields.Points, CardID: fields.CardID}, nil
	case KindUnstake:
		return Unstake{StakeID: fields.StakeID}, nil
	case KindContribute:
		return Contribute{Points: fields.Points}, nil
	case KindConvert:
		return Convert{Asset: fields.Asset, Points: fields.Points}, nil
	case KindClaim:
		return Claim{AchievementID: fields.AchievementID}, nil
	case KindTrade:
		return Trade{ListingID: fields.ListingID}, nil
	default:
		return nil, common.Invalid("kind", common.CodeInvalidFormat, "unknown operation %q", kind)
	}
}

// OperationFields is the union of every operation's inputs.
type OperationFields struct {
	Points        int64  `json:"points,omitempty"`
	CardID        string `json:"cardId,omitempty"`
	RedemptionID  string `json:"redemptionId,omitempty"`
	OptionID      string `json:"optionId,omitempty"`
	StakeID       string `json:"stakeId,omitempty"`
	Asset         string `json:"asset,omitempty"`
	AchievementID string `json:"achievementId,omitempty"`
	ListingID     string `json:"listingId,omitempty"`
}
