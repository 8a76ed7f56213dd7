package util

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

func decodeJSON[T any](body io.ReadCloser) (T, error) {
	var data T
	raw, err := io.ReadAll(body)
	if err != nil {
		return data, fmt.Errorf("read body error: %w", err)
	}
	defer body.Close()

	if err := json.Unmarshal(raw, &data); err != nil {
		var zero T
		return zero, fmt.Errorf("json unmarshal error: %w", err)
	}
	return data, nil
}

// DecodeJSONBody reads and unmarshals an incoming request body.
func DecodeJSONBody[T any](r *http.Request) (T, error) {
	return decodeJSON[T](r.Body)
}

// DecodeJSONBodyResponse is the response-side counterpart, used when
// consuming our own endpoints (tests, internal clients).
func DecodeJSONBodyResponse[T any](r *http.Response) (T, error) {
	return decodeJSON[T](r.Body)
}

func WriteJSONResponse[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
