package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes a payload as application/json with the given status. HTML
// escaping is off: verification results and payment parameters carry hex
// addresses and URLs, never markup.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
