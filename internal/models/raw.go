package models

import "github.com/shopspring/decimal"

// Raw provider records, one shape per source. Collectors decode into these
// and the matching normalizer is the only consumer of each shape.
// Dates are kept as provider strings; parsing them is part of validation.

// CongressTrade is a periodic transaction report line.
type CongressTrade struct {
	Member          string `json:"member" validate:"required"`
	Chamber         string `json:"chamber"`
	Ticker          string `json:"ticker" validate:"required,max=10"`
	Company         string `json:"company"`
	TransactionType string `json:"transaction_type" validate:"required"` // Purchase, Sale, Sale (Partial), Exchange
	Amount          string `json:"amount" validate:"required"`           // "$1,001 - $15,000"
	TransactionDate string `json:"transaction_date" validate:"required"`
	DisclosureDate  string `json:"disclosure_date"`
}

// ARKTrade is one fund's daily trade notification line.
type ARKTrade struct {
	Fund         string  `json:"fund" validate:"required"`
	Ticker       string  `json:"ticker" validate:"required,max=10"`
	Company      string  `json:"company"`
	Direction    string  `json:"direction" validate:"required"` // Buy, Sell
	Date         string  `json:"date" validate:"required"`
	Shares       float64 `json:"shares" validate:"gt=0"`
	PositionType string  `json:"position_type" validate:"required"` // NEW_POSITION, INCREASED, DECREASED, SOLD_OUT
	ETFPercent   float64 `json:"etf_percent" validate:"gte=0,lte=100"`
}

// DarkPoolRecord is one day of off-exchange volume for a ticker.
type DarkPoolRecord struct {
	Ticker            string  `json:"ticker" validate:"required,max=10"`
	Company           string  `json:"company"`
	Date              string  `json:"date" validate:"required"`
	OffExchangeVolume float64 `json:"off_exchange_volume" validate:"gte=0"`
	TotalVolume       float64 `json:"total_volume" validate:"gt=0,gtefield=OffExchangeVolume"`
}

// InstitutionalHolding is one 13F position line.
type InstitutionalHolding struct {
	Institution string          `json:"institution" validate:"required"`
	Ticker      string          `json:"ticker" validate:"required,max=10"`
	Company     string          `json:"company"`
	QuarterEnd  string          `json:"quarter_end" validate:"required"`
	FilingDate  string          `json:"filing_date"`
	Value       decimal.Decimal `json:"value"`
	Shares      float64         `json:"shares" validate:"gte=0"`
	PriorShares float64         `json:"prior_shares" validate:"gte=0"`
}

// InsiderTransaction is one Form 4 non-derivative transaction.
type InsiderTransaction struct {
	Insider         string          `json:"insider" validate:"required"`
	Title           string          `json:"title"`
	Ticker          string          `json:"ticker" validate:"required,max=10"`
	Company         string          `json:"company"`
	TransactionCode string          `json:"transaction_code" validate:"required"` // P, S
	TransactionDate string          `json:"transaction_date" validate:"required"`
	FilingDate      string          `json:"filing_date"`
	Shares          float64         `json:"shares" validate:"gt=0"`
	Price           decimal.Decimal `json:"price"`
}

// ShortInterestReport is one bi-monthly exchange short-interest line.
type ShortInterestReport struct {
	Ticker             string  `json:"ticker" validate:"required,max=10"`
	Company            string  `json:"company"`
	SettlementDate     string  `json:"settlement_date" validate:"required"`
	PublishDate        string  `json:"publish_date"`
	ShortInterest      float64 `json:"short_interest" validate:"gte=0"`
	PriorShortInterest float64 `json:"prior_short_interest" validate:"gte=0"`
	FloatShares        float64 `json:"float_shares" validate:"gt=0"`
	AvgDailyVolume     float64 `json:"avg_daily_volume" validate:"gt=0"`
}

// SuperinvestorHolding is one tracked manager's quarterly portfolio line.
type SuperinvestorHolding struct {
	Manager          string  `json:"manager" validate:"required"`
	Ticker           string  `json:"ticker" validate:"required,max=10"`
	Company          string  `json:"company"`
	QuarterEnd       string  `json:"quarter_end" validate:"required"`
	FilingDate       string  `json:"filing_date"`
	Activity         string  `json:"activity" validate:"required"` // Buy, Add, Reduce, Sell, Hold
	PortfolioPercent float64 `json:"portfolio_percent" validate:"gte=0,lte=100"`
	Rank             int     `json:"rank" validate:"gte=1"`
	ChangePercent    float64 `json:"change_percent"`
}
