package reservation

import "expvar"

var (
	metricHoldGranted    = expvar.NewInt("card_hold_granted_total")
	metricHoldRejected   = expvar.NewInt("card_hold_rejected_total")
	metricHoldsExpired   = expvar.NewInt("card_hold_expired_total")
	metricCommitTotal    = expvar.NewInt("card_commit_total")
	metricCommitRejected = expvar.NewInt("card_commit_rejected_total")
)
