/*
Package resilience provides a circuit breaker guarding database-backed
capabilities.

# Usage

	breakers := resilience.NewSet(resilience.Settings{
		Timeout:      30 * time.Second,
		ReadyToTrip:  func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 5 },
		IsSuccessful: isCallerError,
	})

	result, err := breakers.Get("query").Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return db.Query(ctx, sql)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open

Errors accepted by IsSuccessful and context cancellations do not count
against the guarded dependency.
*/
package resilience
