// Command ratelimiter runs either half of the tenant rate limiter.
//
// Usage:
//
//	# Policy authority: CRUD, versions, audit trail, pushes to data planes
//	ratelimiter control-plane
//
//	# Enforcement node: admission decisions from local state only
//	ratelimiter data-plane
//
//	ratelimiter version
//
// Both planes are configured from the environment (and an optional .env file).
package main

func main() {
	Execute()
}
