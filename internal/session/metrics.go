package session

import "expvar"

var (
	metricSessionsCreated   = expvar.NewInt("session_created_total")
	metricSessionsStarted   = expvar.NewInt("session_started_total")
	metricSessionsCancelled = expvar.NewInt("session_cancelled_total")
	metricSessionsNoWinner  = expvar.NewInt("session_no_winner_total")
	metricNumbersCalled     = expvar.NewInt("numbers_called_total")
	metricClaimsAccepted    = expvar.NewInt("claims_accepted_total")
	metricClaimsRejected    = expvar.NewInt("claims_rejected_total")
	metricSettleFailures    = expvar.NewInt("settlement_failures_total")
	metricRoomsActive       = expvar.NewInt("rooms_active")
	metricStreamDropped     = expvar.NewInt("stream_subscribers_dropped_total")
)
