package httpx

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message together with a machine readable reason code.
func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeSuccess(w http.ResponseWriter, status int) {
	writeJSON(w, status, map[string]string{"status": "success"})
}
