package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"pixvault/internal/domain"
)

// response — единый конверт ответа API
type response struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[Handler] failed to encode response: %v", err)
	}
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, response{Code: 0, Data: data, Message: "ok"})
}

// writeError переводит код бизнес-ошибки в HTTP-статус
func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)

	var status int
	switch code {
	case domain.CodeParamsError:
		status = http.StatusBadRequest
	case domain.CodeForbidden:
		status = http.StatusForbidden
	case domain.CodeNotFound:
		status = http.StatusNotFound
	case domain.CodeConflict, domain.CodeQuotaExceeded:
		status = http.StatusConflict
	case domain.CodeUpstreamError:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	message := err.Error()
	var e *domain.Error
	if errors.As(err, &e) {
		message = e.Message
	}
	if status >= http.StatusInternalServerError {
		// Внутренности не показываем, подробности остаются в логах
		log.Printf("[Handler] internal error: %v", err)
		message = "internal error"
	}

	writeJSON(w, status, response{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, response{Code: domain.CodeForbidden, Message: "authentication required"})
}
