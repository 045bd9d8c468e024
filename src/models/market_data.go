package models

// -----------------------------------------------------------------------------
// Fetch request / response structures
// -----------------------------------------------------------------------------

// MFetchRequest describes one symbol fetch against the charting service.
type MFetchRequest struct {
	Symbol          string `json:"symbol"`
	Resolution      string `json:"resolution"`
	BarsCount       int    `json:"bars_count"`
	CVDEnabled      bool   `json:"cvd_enabled"`
	CVDAnchorPeriod string `json:"cvd_anchor_period"`
	CVDTimeframe    string `json:"cvd_timeframe"`
	UserEmail       string `json:"user_email"`
}

// -----------------------------------------------------------------------------

// MBar is one normalized OHLCV candle. Time is a unix timestamp in seconds.
type MBar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// -----------------------------------------------------------------------------

// MSymbolMetadata is the resolved symbol description returned by the service.
type MSymbolMetadata struct {
	Name         string  `json:"name,omitempty"`
	Description  string  `json:"description,omitempty"`
	Exchange     string  `json:"exchange,omitempty"`
	CurrencyCode string  `json:"currency_code,omitempty"`
	PriceScale   float64 `json:"pricescale,omitempty"`
	MarketOpen   *bool   `json:"market_open,omitempty"`
}

// -----------------------------------------------------------------------------

// MCVDPoint is one derived-indicator value aligned to a bar timestamp.
type MCVDPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// MIndicatorValues groups the optional derived indicators of a fetch.
type MIndicatorValues struct {
	CVD []MCVDPoint `json:"cvd,omitempty"`
}

// -----------------------------------------------------------------------------

// MFetchResponse is the normalized result of a symbol fetch.
// Indicators is nil when the indicator was not requested or its config
// could not be obtained in time.
type MFetchResponse struct {
	Bars       []MBar            `json:"bars"`
	Metadata   MSymbolMetadata   `json:"metadata"`
	Indicators *MIndicatorValues `json:"indicators,omitempty"`
}

// -----------------------------------------------------------------------------

// MIndicatorConfig is the session-scoped configuration blob required to
// compute the CVD study server-side.
type MIndicatorConfig struct {
	ScriptText string   `json:"script_text"`
	Features   []string `json:"features"`
}

// -----------------------------------------------------------------------------

// MPoolStats is a point-in-time snapshot of the connection pool.
type MPoolStats struct {
	Connections     int `json:"connections"`
	PendingRequests int `json:"pending_requests"`
}
