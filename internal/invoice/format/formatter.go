package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultNumberTemplate yields e.g. MG-20261019-000042.
const DefaultNumberTemplate = "MG-{YYYY}{MM}{DD}-{SEQ6}"

var seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)

// Number renders an invoice number from a template. Supported tokens are
// {YYYY} {YY} {MM} {DD} {SEQ} and {SEQn} for a zero-padded sequence.
func Number(template string, issuedAt time.Time, seq int64) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	issuedAt = issuedAt.UTC()
	out := strings.NewReplacer(
		"{YYYY}", issuedAt.Format("2006"),
		"{YY}", issuedAt.Format("06"),
		"{MM}", issuedAt.Format("01"),
		"{DD}", issuedAt.Format("02"),
		"{SEQ}", strconv.FormatInt(seq, 10),
	).Replace(template)

	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		width, err := strconv.Atoi(seqPadRe.FindStringSubmatch(m)[1])
		if err != nil || width <= 0 || width > 18 {
			return m
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("unresolved token in invoice number: %s", out)
	}
	return out, nil
}

// Money renders minor units as "12.34 USD".
func Money(cents int64, currency string) string {
	amount := decimal.New(cents, -2).StringFixed(2)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return amount
	}
	return amount + " " + currency
}

// Period renders a half-open window using calendar dates of its bounds.
func Period(start, end time.Time) string {
	return start.UTC().Format("2006-01-02") + ".." + end.UTC().Format("2006-01-02")
}
