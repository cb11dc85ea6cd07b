package domain

import "time"

// MerchantFrequency is a merchant with how often and how much the tenant paid it.
type MerchantFrequency struct {
	Merchant string
	Count    int
	Total    float64
}

// RecurringCharge is a (merchant, amount) pair seen more than once.
type RecurringCharge struct {
	Merchant string
	Amount   float64
	Count    int
}

// CategoryTotal is the summed amount for one category.
type CategoryTotal struct {
	Category string
	Total    float64
}

// TrendPoint is the total spent in one bucket (a day or a month).
type TrendPoint struct {
	Bucket string
	Total  float64
}

// SpendFilter scopes dashboard aggregations. Zero Since means no lower bound;
// empty Categories means all categories. Monthly buckets the trend by YYYY-MM
// instead of by day.
type SpendFilter struct {
	Since      time.Time
	Categories []string
	Monthly    bool
}
