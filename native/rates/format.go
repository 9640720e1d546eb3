package rates

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var indianPrinter = message.NewPrinter(language.MustParse("en-IN"))

// FormatCurrency renders an INR amount without fractional digits using
// Indian digit grouping.
func FormatCurrency(amount decimal.Decimal) string {
	whole := amount.Round(0).IntPart()
	return "₹" + indianPrinter.Sprint(number.Decimal(whole))
}

// FormatInteger renders a plain integer with Indian digit grouping.
func FormatInteger(n int64) string {
	return indianPrinter.Sprint(number.Decimal(n))
}

// FormatPoints abbreviates large point counts with the Indian K / L / Cr
// suffixes.
func FormatPoints(n int64) string {
	abs := math.Abs(float64(n))
	switch {
	case abs >= 1e7:
		return fmt.Sprintf("%.2fCr", float64(n)/1e7)
	case abs >= 1e5:
		return fmt.Sprintf("%.2fL", float64(n)/1e5)
	case abs >= 1e3:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// DaysUntil returns ceil((t − now) / 24h); negative once t has passed.
func DaysUntil(now, t time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

// FormatRelative renders t relative to now ("Just now", "5 min ago",
// "3 hours ago", "2 days ago"); anything older than a week gets a date.
func FormatRelative(now, t time.Time) string {
	seconds := int64(now.Sub(t).Seconds())
	switch {
	case seconds < 60:
		return "Just now"
	case seconds < 3600:
		return fmt.Sprintf("%d min ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%d hours ago", seconds/3600)
	case seconds < 604800:
		return fmt.Sprintf("%d days ago", seconds/86400)
	default:
		return t.Format("2 Jan 2006")
	}
}
