package utils

import (
	"encoding/json"
	"net/http"

	"github.com/nijaru/yt-transcript/errors"
	"github.com/sirupsen/logrus"
)

// ErrorResponse is the gateway's error document.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func RespondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("Failed to encode JSON response")
	}
}

// HandleError writes err as an ErrorResponse with the status its kind maps to.
func HandleError(w http.ResponseWriter, err error) {
	RespondJSON(w, errors.StatusCode(err), ErrorResponse{
		Detail: errors.Message(err),
		Code:   errors.KindOf(err).String(),
	})
}
