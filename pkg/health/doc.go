// Package health serves liveness and readiness probes.
//
//	r.Get("/health/live", health.LivenessHandler())
//	r.Get("/health/ready", health.ReadinessHandler(health.Checks{
//	    "postgres": db.Healthcheck(pool),
//	    "jobs":     job.Healthcheck(manager),
//	}, health.WithLogger(log)))
//
// Responses are plain text ("OK" / "Service Unavailable") unless JSON is
// requested with ?format=json or Accept: application/json.
package health
