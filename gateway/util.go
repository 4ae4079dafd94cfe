package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

func itoa(n int) string { return strconv.Itoa(n) }

// randomID returns a short unique suffix for client-facing message ids.
func randomID() string { return uuid.NewString() }

func writeJSON(w http.ResponseWriter, v interface{}) {
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
