package migration

import (
	accountdomain "github.com/smallbiznis/meterguard/internal/account/domain"
	apikeydomain "github.com/smallbiznis/meterguard/internal/apikey/domain"
	"github.com/smallbiznis/meterguard/internal/cache"
	intakedomain "github.com/smallbiznis/meterguard/internal/intake/domain"
	invoicedomain "github.com/smallbiznis/meterguard/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/meterguard/internal/ledger/domain"
	outboxdomain "github.com/smallbiznis/meterguard/internal/outbox/domain"
	paymentdomain "github.com/smallbiznis/meterguard/internal/payment/domain"
	plandomain "github.com/smallbiznis/meterguard/internal/plan/domain"
	pricingdomain "github.com/smallbiznis/meterguard/internal/pricing/domain"
	quotadomain "github.com/smallbiznis/meterguard/internal/quota/domain"
	subscriptiondomain "github.com/smallbiznis/meterguard/internal/subscription/domain"
	"gorm.io/gorm"
)

// Models lists every persisted type. The embedded postgres migrations must
// produce the same schema.
func Models() []any {
	return []any{
		&accountdomain.User{},
		&accountdomain.Team{},
		&ledgerdomain.Wallet{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.UsageRecord{},
		&plandomain.Plan{},
		&plandomain.DailyLimitPlan{},
		&plandomain.UsagePlan{},
		&plandomain.PlanAssignment{},
		&pricingdomain.PriceRule{},
		&quotadomain.OverdraftAlert{},
		&intakedomain.ProviderEvent{},
		&paymentdomain.Order{},
		&paymentdomain.Payment{},
		&paymentdomain.Refund{},
		&subscriptiondomain.Customer{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.PriceMapping{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&outboxdomain.EventOutbox{},
		&cache.Setting{},
		&apikeydomain.APIKey{},
	}
}

// AutoMigrate creates or updates the schema from Models. It backs mysql,
// sqlite and tests.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
