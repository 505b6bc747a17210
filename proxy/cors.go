package proxy

import "net/http"

const (
	corsAllowMethods = "POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-User-Id"
)

// applyCORS echoes allow-listed origins. Unknown origins get no Access-Control-Allow-Origin,
// which makes the browser discard the response.
func (h *Handler) applyCORS(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Add("Vary", "Origin")
	header.Set("Access-Control-Allow-Methods", corsAllowMethods)
	header.Set("Access-Control-Allow-Headers", corsAllowHeaders)

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if _, ok := h.origins[origin]; !ok {
		return
	}
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Credentials", "true")
}
