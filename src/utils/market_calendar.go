package utils

import (
	"strings"
	"sync"
	"time"

	"github.com/scmhub/calendar"
)

// MarketCalendar answers whether an exchange is currently trading, using
// scmhub/calendar holiday and session data. Resolved calendars are cached
// per exchange.
type MarketCalendar struct {
	mu    sync.Mutex
	cache map[string]*calendar.Calendar
}

// -----------------------------------------------------------------------------

// Exchange names as reported in resolved symbol metadata, mapped to
// ISO 10383 MIC codes understood by scmhub/calendar.
var exchangeMICs = map[string]string{
	"NYSE":      "xnys",
	"NASDAQ":    "xnas",
	"AMEX":      "xnys",
	"ARCA":      "xnys",
	"CBOE":      "xnys",
	"LSE":       "xlon",
	"EURONEXT":  "xpar",
	"XETRA":     "xfra",
	"FWB":       "xfra",
	"SIX":       "xswx",
	"TSX":       "xtse",
	"TSXV":      "xtsx",
	"TSE":       "xtks",
	"HKEX":      "xhkg",
	"ASX":       "xasx",
	"KRX":       "xkrx",
	"TWSE":      "xtai",
	"SSE":       "xshg",
	"SZSE":      "xshe",
	"OMXSTO":    "xsto",
	"OMXCOP":    "xcse",
	"OMXHEX":    "xhel",
	"MIL":       "xmil",
	"BME":       "xmad",
	"VIE":       "xwbo",
	"BRUSSELS":  "xbru",
	"AMSTERDAM": "xams",
}

// -----------------------------------------------------------------------------

func NewMarketCalendar() *MarketCalendar {
	return &MarketCalendar{
		cache: make(map[string]*calendar.Calendar),
	}
}

// -----------------------------------------------------------------------------

// IsOpen reports whether the exchange is trading at t. The second return is
// false when the exchange has no known calendar; callers should then omit
// the open/closed flag rather than guess.
func (mc *MarketCalendar) IsOpen(exchange string, t time.Time) (bool, bool) {
	cal := mc.lookup(exchange)
	if cal == nil {
		return false, false
	}
	return cal.IsOpen(t.In(cal.Loc)), true
}

// IsTradingDay reports whether the exchange has a session on the given date.
func (mc *MarketCalendar) IsTradingDay(exchange string, date time.Time) (bool, bool) {
	cal := mc.lookup(exchange)
	if cal == nil {
		return false, false
	}
	return cal.IsBusinessDay(date.In(cal.Loc)), true
}

// -----------------------------------------------------------------------------

func (mc *MarketCalendar) lookup(exchange string) *calendar.Calendar {
	key := strings.ToUpper(strings.TrimSpace(exchange))
	if key == "" {
		return nil
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if cal, ok := mc.cache[key]; ok {
		return cal
	}

	mic, ok := exchangeMICs[key]
	if !ok {
		// Crypto and OTC venues trade around the clock or have no MIC;
		// cache the miss so we only look once.
		mc.cache[key] = nil
		return nil
	}

	cal := calendar.GetCalendar(mic)
	mc.cache[key] = cal
	return cal
}
