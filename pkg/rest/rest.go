package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type Envelope map[string]any

func ReadJSON(r *http.Request, dest any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err != nil {
		return err
	}

	if len(raw) == 0 {
		return errors.New("empty request body")
	}

	return json.Unmarshal(raw, dest)
}

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(raw)
	return err
}
