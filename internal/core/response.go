package core

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the JSON body of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes data with status. Marshalling failures become a 500.
func JSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"internal_unexpected_error","message":"failed to marshal response"}`))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
