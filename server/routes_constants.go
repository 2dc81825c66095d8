package server

// Route path constants
const (
	// Federated login redirect. The provider is taken from the path or, on
	// the bare route, from the provider query parameter.
	RouteCallback         = "/callback"
	RouteProviderCallback = "/callback/{provider}"

	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
