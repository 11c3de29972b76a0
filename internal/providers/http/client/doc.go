// Package client is the resilient outbound HTTP client used by the generation
// providers and the operator CLI.
//
// Built on go-resty/resty over a hashicorp/go-retryablehttp transport:
//   - retries with exponential backoff on connection errors, 429 and 5xx
//   - a token-bucket rate limiter per client (golang.org/x/time/rate)
//   - a circuit breaker around every call (infrastructure/resilience)
//
// Example:
//
//	c := client.NewClient("genai", client.Config{BaseURL: "https://api.example.com"})
//	resp, err := c.Do(ctx, func(r *resty.Request) (*resty.Response, error) {
//		return r.SetBody(body).Post("/v1/generate")
//	})
package client
