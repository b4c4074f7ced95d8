package httptransport

import "expvar"

var (
	metricAuthFailures   = expvar.NewInt("http_auth_failures_total")
	metricInternalErrors = expvar.NewInt("http_internal_errors_total")
	metricUserMismatch   = expvar.NewInt("http_user_mismatch_total")

	metricSSEConnectionsTotal  = expvar.NewInt("sse_connections_total")
	metricSSEConnectionsActive = expvar.NewInt("sse_connections_active")
	metricWSConnectionsTotal   = expvar.NewInt("ws_connections_total")
	metricWSConnectionsActive  = expvar.NewInt("ws_connections_active")
)
