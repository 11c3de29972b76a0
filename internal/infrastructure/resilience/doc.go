/*
Package resilience provides the circuit breaker that guards generation calls.

A breaker is closed while the dependency behaves, opens after ReadyToTrip
says so, and after Timeout lets a limited number of probe calls through
(half-open). A successful probe closes it again, a failed one reopens it.

	breaker := resilience.New("genai", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	text, err := resilience.Call(ctx, breaker, func(ctx context.Context) (string, error) {
		return provider.Generate(ctx, prompt)
	})

Results from an earlier generation (a call that started before a state
change) are ignored when counted. Caller cancellation does not count as a
failure.
*/
package resilience
