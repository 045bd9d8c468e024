package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chart-gateway/src/charting"
	"chart-gateway/src/config"
	"chart-gateway/src/helpers"
	"chart-gateway/src/logger"
	"chart-gateway/src/models"
	"chart-gateway/src/protocol"
	"chart-gateway/src/utils"
)

// -----------------------------------------------------------------------------
// Connection pool
//
// One streaming connection per charting session identity, created on demand
// and shared by every concurrent fetch for that identity. Logical session
// ids keep the multiplexed requests apart on the wire.
// -----------------------------------------------------------------------------

const (
	anonymousKey  = "anonymous"
	scriptRuntime = "Script@tv-scripting-101!"
)

type ConnectionPool struct {
	Config      *config.Config
	SideChannel *charting.SideChannel
	Calendar    *utils.MarketCalendar
	Logger      *logger.Logger

	mu     sync.Mutex
	conns  map[string]*connSlot
	closed bool
}

// connSlot lets concurrent demands for the same identity share one dial
// attempt: the first caller connects, the rest wait on ready.
type connSlot struct {
	ready chan struct{}
	conn  *Connection
	err   error
}

// -----------------------------------------------------------------------------

func NewConnectionPool(cfg *config.Config, sideChannel *charting.SideChannel, calendar *utils.MarketCalendar, log *logger.Logger) *ConnectionPool {
	return &ConnectionPool{
		Config:      cfg,
		SideChannel: sideChannel,
		Calendar:    calendar,
		Logger:      log,
		conns:       make(map[string]*connSlot),
	}
}

// -----------------------------------------------------------------------------

// FetchSymbol runs one complete fetch over the pooled connection for the
// given credentials. The whole exchange is bounded by the configured fetch
// timeout; a timed-out request abandons its logical ids without closing the
// shared connection.
func (p *ConnectionPool) FetchSymbol(ctx context.Context, creds models.MChartingCredentials, req models.MFetchRequest) (*models.MFetchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Config.FetchTimeout())
	defer cancel()

	conn, err := p.acquire(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer conn.release()

	resp, err := p.runFetch(ctx, conn, creds, req)
	if err != nil && !conn.IsAlive() {
		p.discard(conn)
	}
	return resp, err
}

// -----------------------------------------------------------------------------

// acquire returns the live connection for the credential identity, dialing
// one if needed. A dead connection found in the map is dropped and replaced.
// The returned connection is leased: the caller must release it, and until
// then the eviction job will not touch it.
func (p *ConnectionPool) acquire(ctx context.Context, creds models.MChartingCredentials) (*Connection, error) {
	key := creds.SessionID
	if key == "" {
		key = anonymousKey
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("connection pool is shut down")
		}
		slot, ok := p.conns[key]
		if !ok {
			slot = &connSlot{ready: make(chan struct{})}
			p.conns[key] = slot
			p.mu.Unlock()

			slot.conn, slot.err = p.connect(ctx, key, creds)
			if slot.err == nil {
				// A shutdown that raced the dial skipped this slot; do
				// not hand out (or keep) a connection it never saw.
				p.mu.Lock()
				closed := p.closed
				p.mu.Unlock()
				if closed {
					slot.conn.Close()
					slot.conn = nil
					slot.err = fmt.Errorf("connection pool is shut down")
				}
			}
			close(slot.ready)
			if slot.err != nil {
				p.removeSlot(key, slot)
				return nil, slot.err
			}
			slot.conn.lease()
			return slot.conn, nil
		}
		p.mu.Unlock()

		select {
		case <-slot.ready:
		case <-ctx.Done():
			return nil, helpers.NewFetchTimeoutError("timed out waiting for connection", ctx.Err())
		}

		if slot.err != nil {
			p.removeSlot(key, slot)
			return nil, slot.err
		}
		if slot.conn.IsAlive() {
			slot.conn.lease()
			return slot.conn, nil
		}
		// Stale entry from a dead socket, dial a fresh one.
		p.removeSlot(key, slot)
	}
}

// -----------------------------------------------------------------------------

// connect dials and authenticates a new connection, retrying the whole
// sequence with exponential backoff. Retries cover connect and handshake
// only, never an in-flight fetch.
func (p *ConnectionPool) connect(ctx context.Context, key string, creds models.MChartingCredentials) (*Connection, error) {
	token, err := p.SideChannel.GetAuthToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	result, err := helpers.RetryWithBackoff(ctx, fmt.Sprintf("connect %s", key),
		p.Config.Charting.ConnectRetries, p.Config.ConnectRetryDelay(), true,
		func() (interface{}, error) {
			c, err := dialConnection(key, p.Config.MConfig, creds, p.Logger)
			if err != nil {
				return nil, err
			}
			if err := p.handshake(c, token); err != nil {
				c.Close()
				return nil, err
			}
			return c, nil
		})
	if err != nil {
		return nil, err
	}

	conn := result.(*Connection)
	p.Logger.Info("%s : connection ready", key)
	return conn, nil
}

// -----------------------------------------------------------------------------

// handshake authenticates the freshly dialed connection and creates its
// chart and quote sessions. The server handshake frame must arrive within
// the configured window or the attempt fails.
func (p *ConnectionPool) handshake(c *Connection, token string) error {
	if err := c.send("set_auth_token", token); err != nil {
		return err
	}
	if err := c.send("set_locale", p.Config.Charting.Locale, "US"); err != nil {
		return err
	}
	if err := c.send("chart_create_session", c.chartSession, ""); err != nil {
		return err
	}
	if err := c.send("quote_create_session", c.quoteSession); err != nil {
		return err
	}

	timer := time.NewTimer(p.Config.HandshakeTimeout())
	defer timer.Stop()

	select {
	case <-c.handshakeCh:
		c.setState(StateReady)
		return nil
	case <-c.closed:
		return helpers.NewProtocolError("connection closed during handshake", c.CloseErr())
	case <-timer.C:
		return helpers.NewHandshakeTimeoutError(
			fmt.Sprintf("no handshake within %s", p.Config.HandshakeTimeout()), nil)
	}
}

// -----------------------------------------------------------------------------

// runFetch drives resolve, series and optional study over an already-ready
// connection.
func (p *ConnectionPool) runFetch(ctx context.Context, conn *Connection, creds models.MChartingCredentials, req models.MFetchRequest) (*models.MFetchResponse, error) {
	var indicator *models.MIndicatorConfig
	if req.CVDEnabled {
		cfg, err := p.SideChannel.GetIndicatorConfig(ctx, creds)
		if err != nil {
			// Degraded fetch: bars and metadata still go out.
			p.Logger.Warning("indicator config unavailable for %s, serving bars only: %v", req.Symbol, err)
		} else {
			indicator = &cfg
		}
	}

	feature := ""
	if indicator != nil && len(indicator.Features) > 0 {
		feature = indicator.Features[0]
	}

	resolveID := protocol.GenerateSessionID("sds_sym")
	seriesID := protocol.GenerateSessionID("sds")
	studyID := protocol.GenerateSessionID("st")

	resolveCh := conn.register(resolveID)
	defer conn.unregister(resolveID)

	if err := conn.send("resolve_symbol", conn.chartSession, resolveID, protocol.SymbolSpec(req.Symbol, feature)); err != nil {
		return nil, err
	}

	var meta models.MSymbolMetadata
	select {
	case msg := <-resolveCh:
		if msg.Method == "symbol_error" {
			// The connection stays healthy; only this symbol is bad.
			return nil, helpers.NewSymbolResolutionError(fmt.Sprintf("failed to resolve symbol %s", req.Symbol))
		}
		meta = extractMetadata(&msg)
	case <-conn.closed:
		return nil, helpers.NewProtocolError("connection closed while resolving symbol", conn.CloseErr())
	case <-ctx.Done():
		return nil, helpers.NewFetchTimeoutError(fmt.Sprintf("timed out resolving %s", req.Symbol), ctx.Err())
	}

	if p.Calendar != nil && meta.Exchange != "" {
		if open, known := p.Calendar.IsOpen(meta.Exchange, time.Now()); known {
			meta.MarketOpen = &open
		}
	}

	seriesCh := conn.register(seriesID)
	defer conn.unregister(seriesID)

	var studyCh chan protocol.Message
	if indicator != nil {
		studyCh = conn.register(studyID)
		defer conn.unregister(studyID)
	}

	if err := conn.send("create_series", conn.chartSession, seriesID, "s1", resolveID, req.Resolution, req.BarsCount, ""); err != nil {
		return nil, err
	}
	if indicator != nil {
		inputs := map[string]interface{}{
			"text": indicator.ScriptText,
		}
		if req.CVDAnchorPeriod != "" {
			inputs["in_0"] = map[string]interface{}{"v": req.CVDAnchorPeriod, "f": true, "t": "text"}
		}
		if req.CVDTimeframe != "" {
			inputs["in_1"] = map[string]interface{}{"v": req.CVDTimeframe, "f": true, "t": "text"}
		}
		if err := conn.send("create_study", conn.chartSession, studyID, "st1", seriesID, scriptRuntime, inputs); err != nil {
			return nil, err
		}
	}

	return p.collect(ctx, conn, req, meta, indicator != nil, seriesID, studyID, seriesCh, studyCh)
}

// -----------------------------------------------------------------------------

// collect drains data updates until the series (and study, when requested)
// completes. A study that keeps the series waiting past a short grace window
// after completion is dropped so bars still go out in time.
func (p *ConnectionPool) collect(ctx context.Context, conn *Connection, req models.MFetchRequest, meta models.MSymbolMetadata, wantStudy bool, seriesID, studyID string, seriesCh, studyCh chan protocol.Message) (*models.MFetchResponse, error) {
	var bars []models.MBar
	var points []models.MCVDPoint
	var studyGrace <-chan time.Time

	seriesDone := false
	studyDone := !wantStudy

	for !seriesDone || !studyDone {
		select {
		case msg := <-seriesCh:
			switch msg.Method {
			case "series_completed":
				seriesDone = true
				if !studyDone {
					studyGrace = time.After(p.Config.ConfigTimeout())
				}
			default:
				if payload, ok := seriesPayload(&msg, seriesID); ok {
					bars = mergeBars(bars, extractBars(payload))
				}
			}

		case msg := <-studyCh:
			switch msg.Method {
			case "study_completed":
				studyDone = true
			case "study_error":
				p.Logger.Warning("study failed for %s, serving bars only", req.Symbol)
				studyDone = true
				points = nil
			default:
				if payload, ok := seriesPayload(&msg, studyID); ok {
					points = mergePoints(points, extractStudyPoints(payload))
				}
			}

		case <-studyGrace:
			p.Logger.Warning("study for %s outlived the series, serving bars only", req.Symbol)
			studyDone = true
			points = nil

		case <-conn.closed:
			return nil, helpers.NewProtocolError("connection closed during fetch", conn.CloseErr())

		case <-ctx.Done():
			return nil, helpers.NewFetchTimeoutError(
				fmt.Sprintf("timed out fetching %s (%d bars received)", req.Symbol, len(bars)), ctx.Err())
		}
	}

	resp := &models.MFetchResponse{
		Bars:     bars,
		Metadata: meta,
	}
	if wantStudy && len(points) > 0 {
		resp.Indicators = &models.MIndicatorValues{CVD: points}
	}
	return resp, nil
}

// -----------------------------------------------------------------------------

// EvictIdle closes connections with no leases or pending requests that have
// been quiet longer than the configured window. Returns the number of
// evictions.
func (p *ConnectionPool) EvictIdle() int {
	window := p.Config.IdleEviction()

	var victims []*Connection
	p.mu.Lock()
	for key, slot := range p.conns {
		select {
		case <-slot.ready:
		default:
			continue // still dialing
		}
		c := slot.conn
		if c == nil {
			delete(p.conns, key)
			continue
		}
		if !c.IsAlive() {
			delete(p.conns, key)
			continue
		}
		if !c.busy() && time.Since(c.LastActivity()) > window {
			delete(p.conns, key)
			victims = append(victims, c)
		}
	}
	p.mu.Unlock()

	for _, c := range victims {
		p.Logger.Info("%s : evicting idle connection", c.Key)
		c.Close()
	}
	return len(victims)
}

// -----------------------------------------------------------------------------

// Shutdown closes every connection and rejects further fetches.
func (p *ConnectionPool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	slots := make([]*connSlot, 0, len(p.conns))
	for _, slot := range p.conns {
		slots = append(slots, slot)
	}
	p.conns = make(map[string]*connSlot)
	p.mu.Unlock()

	for _, slot := range slots {
		select {
		case <-slot.ready:
			if slot.conn != nil {
				slot.conn.Close()
			}
		default:
			// Still dialing; close whatever the dial produces once it
			// settles so no connection outlives the pool.
			go func() {
				<-slot.ready
				if slot.conn != nil {
					slot.conn.Close()
				}
			}()
		}
	}
	p.Logger.Info("connection pool shut down")
}

// -----------------------------------------------------------------------------

func (p *ConnectionPool) GetStats() models.MPoolStats {
	stats := models.MPoolStats{}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range p.conns {
		select {
		case <-slot.ready:
		default:
			continue
		}
		if slot.conn != nil && slot.conn.IsAlive() {
			stats.Connections++
			stats.PendingRequests += slot.conn.pendingCount()
		}
	}
	return stats
}

// -----------------------------------------------------------------------------

// discard drops a dead connection from the map so the next demand redials.
func (p *ConnectionPool) discard(conn *Connection) {
	p.mu.Lock()
	for key, slot := range p.conns {
		if slot.conn == conn {
			delete(p.conns, key)
			break
		}
	}
	p.mu.Unlock()
	conn.Close()
}

// removeSlot deletes the slot only if it is still the current occupant.
func (p *ConnectionPool) removeSlot(key string, slot *connSlot) {
	p.mu.Lock()
	if p.conns[key] == slot {
		delete(p.conns, key)
	}
	p.mu.Unlock()
}
