package interfaces

import "context"

// -----------------------------------------------------------------------------
// INetworkManager defines the contract for HTTP side-channel requests.
// -----------------------------------------------------------------------------

type INetworkManager interface {

	// -----------------------------------------------------------------------------

	// Get performs a GET request to the specified URL with query parameters
	// and extra headers (cookie auth lives here). Returns the response body
	// or an error; the context bounds the whole call including retries.
	Get(ctx context.Context, url string, params map[string]string, headers map[string]string) ([]byte, error)

	// -----------------------------------------------------------------------------

	// Delete performs a DELETE request and returns the response status code
	// and body. No retries: deletes are not known to be safe to repeat, so
	// status interpretation belongs to the caller.
	Delete(ctx context.Context, url string, headers map[string]string) (int, []byte, error)
}
