package interfaces

import (
	"context"

	"chart-gateway/src/models"
)

// -----------------------------------------------------------------------------
// IDataFetcher is the demand-driven fetch surface served by the connection
// pool and consumed by the API layer.
// -----------------------------------------------------------------------------

type IDataFetcher interface {

	// -----------------------------------------------------------------------------

	// FetchSymbol resolves the symbol and returns chronological OHLCV bars,
	// metadata and (when requested and obtainable) derived indicator values.
	// creds select which stored charting session the connection runs under.
	FetchSymbol(ctx context.Context, creds models.MChartingCredentials, req models.MFetchRequest) (*models.MFetchResponse, error)

	// -----------------------------------------------------------------------------

	// EvictIdle drops connections idle longer than the configured window.
	EvictIdle() int

	// -----------------------------------------------------------------------------

	// Shutdown closes every connection in the pool.
	Shutdown()

	// -----------------------------------------------------------------------------

	// GetStats snapshots connection and in-flight request counts.
	GetStats() models.MPoolStats
}
