package risk

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CredibilityTier is an ordered agent reputation bucket.
type CredibilityTier int

const (
	TierBronze CredibilityTier = iota
	TierSilver
	TierGold
	TierPlatinum
	TierDiamond
)

var tierNames = [...]string{"bronze", "silver", "gold", "platinum", "diamond"}

func (t CredibilityTier) String() string {
	if t < TierBronze || t > TierDiamond {
		return "unknown"
	}
	return tierNames[t]
}

// MarshalText encodes the tier by name.
func (t CredibilityTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *CredibilityTier) UnmarshalText(b []byte) error {
	tier, err := ParseCredibilityTier(string(b))
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// ParseCredibilityTier parses a case-insensitive tier name.
func ParseCredibilityTier(s string) (CredibilityTier, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range tierNames {
		if n == name {
			return CredibilityTier(i), nil
		}
	}
	return TierBronze, ErrValidation.Explain("unknown credibility tier %q", s)
}

// AgentScore is the reputation score of an agent. Overall is 0-100.
type AgentScore struct {
	Overall     float64 `json:"overall"`
	Performance float64 `json:"performance"`
	Confidence  float64 `json:"confidence"`
}

// Agent is owned by an external registry; the risk engine only reads it.
type Agent struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	CredibilityTier CredibilityTier `json:"credibility_tier"`
	Score           AgentScore      `json:"score"`
}

// VaultStatus is the lifecycle state of a credit vault.
type VaultStatus string

const (
	VaultStatusActive      VaultStatus = "active"
	VaultStatusLiquidated  VaultStatus = "liquidated"
	VaultStatusClosed      VaultStatus = "closed"
	VaultStatusUnderReview VaultStatus = "under_review"
)

// AssetPosition is one side (collateral or debt) of a vault.
type AssetPosition struct {
	Token       string          `json:"token"`
	Amount      decimal.Decimal `json:"amount"`
	ValueUSD    decimal.Decimal `json:"value_usd"`
	LastUpdated time.Time       `json:"last_updated"`
}

// LiquidationProtection holds the per-vault protection trigger settings.
type LiquidationProtection struct {
	Enabled         bool       `json:"enabled"`
	Threshold       float64    `json:"threshold"`
	CooldownSeconds int64      `json:"cooldown_seconds"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// Cooldown returns the protection cooldown as a duration.
func (p LiquidationProtection) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

// CreditVault is a collateralized credit position. LTV, HealthFactor and
// MaxLTV are derived and only change through RecalculateVaultMetrics.
type CreditVault struct {
	ID                    string                `json:"id"`
	AgentID               string                `json:"agent_id"`
	ChainID               string                `json:"chain_id"`
	Status                VaultStatus           `json:"status"`
	Collateral            AssetPosition         `json:"collateral"`
	Debt                  AssetPosition         `json:"debt"`
	LTV                   float64               `json:"ltv"`
	HealthFactor          HealthFactor          `json:"health_factor"`
	MaxLTV                float64               `json:"max_ltv"`
	LiquidationProtection LiquidationProtection `json:"liquidation_protection"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
	LastRiskCheckAt       time.Time             `json:"last_risk_check_at"`
}

// HistoricalSample is an externally supplied point of a vault's risk history.
type HistoricalSample struct {
	Timestamp    time.Time    `json:"timestamp"`
	LTV          float64      `json:"ltv"`
	HealthFactor HealthFactor `json:"health_factor"`
}

// TimePoint is a single value in a trend series.
type TimePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HealthFactorPoint is a single value in a health factor trend series.
type HealthFactorPoint struct {
	Timestamp time.Time    `json:"timestamp"`
	Value     HealthFactor `json:"value"`
}

// VaultRiskMetrics is the computed risk view of a vault.
type VaultRiskMetrics struct {
	VaultID             string              `json:"vault_id"`
	CurrentLTV          float64             `json:"current_ltv"`
	CurrentHealthFactor HealthFactor        `json:"current_health_factor"`
	MaxLTV              float64             `json:"max_ltv"`
	RiskScore           float64             `json:"risk_score"`
	RiskLevel           RiskLevel           `json:"risk_level"`
	Warnings            []string            `json:"warnings"`
	Recommendations     []string            `json:"recommendations"`
	LTVHistory          []TimePoint         `json:"ltv_history"`
	HealthFactorHistory []HealthFactorPoint `json:"health_factor_history"`
}

// PredictiveRiskMetrics is a short-horizon projection of vault risk.
type PredictiveRiskMetrics struct {
	PredictedLTV          float64      `json:"predicted_ltv"`
	PredictedHealthFactor HealthFactor `json:"predicted_health_factor"`
	RiskProbability       float64      `json:"risk_probability"`
	TimeHorizonHours      int          `json:"time_horizon_hours"`
	Confidence            float64      `json:"confidence"`
	Factors               []string     `json:"factors"`
}

// MarketSentiment is the coarse market mood for a chain.
type MarketSentiment string

const (
	SentimentBearish MarketSentiment = "bearish"
	SentimentNeutral MarketSentiment = "neutral"
	SentimentBullish MarketSentiment = "bullish"
)

// Valid reports whether s is a known sentiment.
func (s MarketSentiment) Valid() bool {
	switch s {
	case SentimentBearish, SentimentNeutral, SentimentBullish:
		return true
	}
	return false
}

// MarketData is the latest market snapshot for one chain.
type MarketData struct {
	ChainID         string             `json:"chain_id"`
	Volatility      float64            `json:"volatility"`
	VolatilityIndex float64            `json:"volatility_index"`
	GasPrice        float64            `json:"gas_price"`
	PriceFeeds      map[string]float64 `json:"price_feeds"`
	MarketCap       float64            `json:"market_cap"`
	Volume24h       float64            `json:"volume_24h"`
	PriceChange24h  float64            `json:"price_change_24h"`
	MarketSentiment MarketSentiment    `json:"market_sentiment"`
	Timestamp       time.Time          `json:"timestamp"`
}

// NeutralMarketData is used when no market data was pushed for a chain.
func NeutralMarketData(chainID string, at time.Time) MarketData {
	return MarketData{
		ChainID:         chainID,
		Volatility:      1.0,
		VolatilityIndex: 1.0,
		PriceFeeds:      map[string]float64{},
		MarketSentiment: SentimentNeutral,
		Timestamp:       at,
	}
}

// Clone returns a deep copy.
func (m MarketData) Clone() MarketData {
	feeds := make(map[string]float64, len(m.PriceFeeds))
	for k, v := range m.PriceFeeds {
		feeds[k] = v
	}
	m.PriceFeeds = feeds
	return m
}

// Validate rejects snapshots whose volatility, volatility index or prices are
// not positive finite numbers.
func (m MarketData) Validate() error {
	if err := positiveFinite("volatility", m.Volatility); err != nil {
		return err
	}
	if err := positiveFinite("volatility_index", m.VolatilityIndex); err != nil {
		return err
	}
	return validatePriceFeeds(m.PriceFeeds)
}

// MarketDataUpdate is a partial market data push. Nil fields keep their
// previous value; PriceFeeds entries are merged.
type MarketDataUpdate struct {
	Volatility      *float64           `json:"volatility,omitempty"`
	VolatilityIndex *float64           `json:"volatility_index,omitempty"`
	GasPrice        *float64           `json:"gas_price,omitempty"`
	PriceFeeds      map[string]float64 `json:"price_feeds,omitempty"`
	MarketCap       *float64           `json:"market_cap,omitempty"`
	Volume24h       *float64           `json:"volume_24h,omitempty"`
	PriceChange24h  *float64           `json:"price_change_24h,omitempty"`
	MarketSentiment *MarketSentiment   `json:"market_sentiment,omitempty"`
}

// Validate checks the fields the update sets. Volatility, volatility index and
// prices must be positive finite numbers; gas price must be finite and not
// negative.
func (u MarketDataUpdate) Validate() error {
	if u.Volatility != nil {
		if err := positiveFinite("volatility", *u.Volatility); err != nil {
			return err
		}
	}
	if u.VolatilityIndex != nil {
		if err := positiveFinite("volatility_index", *u.VolatilityIndex); err != nil {
			return err
		}
	}
	if u.GasPrice != nil && (!isFinite(*u.GasPrice) || *u.GasPrice < 0) {
		return ErrValidation.Explain("gas_price must be a non-negative finite number, got %v", *u.GasPrice)
	}
	if u.MarketSentiment != nil && !u.MarketSentiment.Valid() {
		return ErrValidation.Explain("unknown market sentiment %q", *u.MarketSentiment)
	}
	return validatePriceFeeds(u.PriceFeeds)
}

func validatePriceFeeds(feeds map[string]float64) error {
	for token, price := range feeds {
		if token == "" {
			return ErrValidation.Explain("price feed token is required")
		}
		if err := positiveFinite("price of "+token, price); err != nil {
			return err
		}
	}
	return nil
}

func positiveFinite(field string, v float64) error {
	if !isFinite(v) || v <= 0 {
		return ErrValidation.Explain("%s must be a positive finite number, got %v", field, v)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Apply merges the update onto base and stamps the timestamp. Callers validate
// the update first.
func (u MarketDataUpdate) Apply(base MarketData, at time.Time) MarketData {
	out := base.Clone()
	if u.Volatility != nil {
		out.Volatility = *u.Volatility
	}
	if u.VolatilityIndex != nil {
		out.VolatilityIndex = *u.VolatilityIndex
	}
	if u.GasPrice != nil {
		out.GasPrice = *u.GasPrice
	}
	for token, price := range u.PriceFeeds {
		out.PriceFeeds[token] = price
	}
	if u.MarketCap != nil {
		out.MarketCap = *u.MarketCap
	}
	if u.Volume24h != nil {
		out.Volume24h = *u.Volume24h
	}
	if u.PriceChange24h != nil {
		out.PriceChange24h = *u.PriceChange24h
	}
	if u.MarketSentiment != nil {
		out.MarketSentiment = *u.MarketSentiment
	}
	out.Timestamp = at
	return out
}
