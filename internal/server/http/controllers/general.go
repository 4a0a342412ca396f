package controllers

import "net/http"

// Health handles GET /v1/healthz.
func (c *Controller) Health(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_serving"}`))
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// Stats handles GET /v1/stats: profile, group, and message counts plus
// pipeline position.
func (c *Controller) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.rt.Stats())
}
