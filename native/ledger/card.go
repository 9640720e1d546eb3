package ledger

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"perq/native/common"
)

// Brand is the card network inferred from the number prefix.
type Brand string

const (
	BrandVisa       Brand = "VISA"
	BrandMastercard Brand = "MASTERCARD"
	BrandAmex       Brand = "AMEX"
	BrandDiscover   Brand = "DISCOVER"
	BrandRuPay      Brand = "RUPAY"
	BrandDiners     Brand = "DINERS"
	BrandUnknown    Brand = "UNKNOWN"
)

var (
	digitsPattern = regexp.MustCompile(`^[0-9]{13,19}$`)
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2})$`)
	cvvPattern    = regexp.MustCompile(`^[0-9]{3,4}$`)

	brandPatterns = []struct {
		brand Brand
		re    *regexp.Regexp
	}{
		{BrandVisa, regexp.MustCompile(`^4[0-9]{12}(?:[0-9]{3})?$`)},
		{BrandMastercard, regexp.MustCompile(`^(5[1-5][0-9]{14}|2(2[2-9]|[3-6][0-9]|7[01])[0-9]{12}|2720[0-9]{12})$`)},
		{BrandAmex, regexp.MustCompile(`^3[47][0-9]{13}$`)},
		{BrandDiners, regexp.MustCompile(`^3(0[0-5]|[68][0-9])[0-9]{11,16}$`)},
		{BrandRuPay, regexp.MustCompile(`^(60|65|81|82|508)[0-9]{11,16}$`)},
		{BrandDiscover, regexp.MustCompile(`^6(011|5[0-9]{2})[0-9]{12,15}$`)},
	}
)

// CleanCardNumber strips spaces and dashes.
func CleanCardNumber(number string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(number)
}

// ValidCardNumber reports whether number has 13 to 19 digits and passes the
// Luhn check.
func ValidCardNumber(number string) bool {
	clean := CleanCardNumber(number)
	if !digitsPattern.MatchString(clean) {
		return false
	}
	return passesLuhn(clean)
}

// DetectBrand classifies a card number by its prefix and length.
func DetectBrand(number string) Brand {
	clean := CleanCardNumber(number)
	for _, candidate := range brandPatterns {
		if candidate.re.MatchString(clean) {
			return candidate.brand
		}
	}
	return BrandUnknown
}

// passesLuhn implements the standard mod 10 check.
func passesLuhn(number string) bool {
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		n, _ := strconv.Atoi(string(number[i]))
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}

// MaskCardNumber hides all but the last four digits.
func MaskCardNumber(number string) string {
	clean := CleanCardNumber(number)
	if len(clean) < 4 {
		return "••••"
	}
	return "•••• •••• •••• " + clean[len(clean)-4:]
}

// FormatCardNumber groups digits in blocks of four.
func FormatCardNumber(number string) string {
	clean := CleanCardNumber(number)
	var b strings.Builder
	for i, r := range clean {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseExpiry returns the first instant after the last day of the MM/YY month.
func ParseExpiry(expiry string) (time.Time, error) {
	match := expiryPattern.FindStringSubmatch(strings.TrimSpace(expiry))
	if match == nil {
		return time.Time{}, common.Invalid("expiry", common.CodeInvalidFormat, "use MM/YY format")
	}
	month, _ := strconv.Atoi(match[1])
	year, _ := strconv.Atoi(match[2])
	return time.Date(2000+year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC), nil
}

// CardInput is the add-card form. CVV is checked and then dropped.
type CardInput struct {
	BankName   string           `json:"bankName"`
	CardType   string           `json:"cardType"`
	HolderName string           `json:"holderName"`
	Number     string           `json:"number"`
	Expiry     string           `json:"expiry"`
	CVV        string           `json:"cvv"`
	Points     int64            `json:"points"`
	Color      string           `json:"color,omitempty"`
	Rate       *decimal.Decimal `json:"rate,omitempty"`
}

// Validate returns the first failing field as a *common.ValidationError.
func (in CardInput) Validate(now time.Time) error {
	switch {
	case strings.TrimSpace(in.BankName) == "":
		return common.Invalid("bankName", common.CodeMissingField, "bank name is required")
	case strings.TrimSpace(in.CardType) == "":
		return common.Invalid("cardType", common.CodeMissingField, "card type is required")
	case strings.TrimSpace(in.HolderName) == "":
		return common.Invalid("holderName", common.CodeMissingField, "cardholder name is required")
	case !ValidCardNumber(in.Number):
		return common.Invalid("number", common.CodeInvalidFormat, "invalid card number")
	}
	expires, err := ParseExpiry(in.Expiry)
	if err != nil {
		return err
	}
	if !now.Before(expires) {
		return common.Invalid("expiry", common.CodeInvalidFormat, "card has expired")
	}
	if !cvvPattern.MatchString(in.CVV) {
		return common.Invalid("cvv", common.CodeInvalidFormat, "invalid CVV")
	}
	if in.Points < 0 {
		return common.Invalid("points", common.CodeInvalidAmount, "points must not be negative")
	}
	if in.Rate != nil && !in.Rate.IsPositive() {
		return common.Invalid("rate", common.CodeInvalidAmount, "rate must be positive")
	}
	return nil
}

// Account converts the validated form into a card account without an id.
func (in CardInput) Account() Account {
	clean := CleanCardNumber(in.Number)
	card := &Card{
		BankName:   strings.TrimSpace(in.BankName),
		CardType:   strings.TrimSpace(in.CardType),
		HolderName: strings.ToUpper(strings.TrimSpace(in.HolderName)),
		Number:     clean,
		Expiry:     strings.TrimSpace(in.Expiry),
		Brand:      DetectBrand(clean),
		Color:      in.Color,
	}
	if card.Color == "" {
		card.Color = "#1a237e"
	}
	if in.Rate != nil {
		rate := *in.Rate
		card.Rate = &rate
	}
	return Account{Kind: KindCard, Points: in.Points, Card: card}
}
