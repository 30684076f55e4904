// Package auth извлекает личность вызывающего из заголовков,
// проставленных шлюзом. Сервис стоит за шлюзом аутентификации и
// доверяет его заголовкам; собственной проверки токенов здесь нет.
package auth

import (
	"fmt"
	"net/http"

	"pixvault/internal/domain"
)

const (
	headerUserID = "X-User-Id"
	headerRole   = "X-User-Role"
)

// FromRequest возвращает личность вызывающего или ошибку, если
// запрос пришел без аутентификации
func FromRequest(r *http.Request) (domain.Identity, error) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		return domain.Identity{}, fmt.Errorf("no user identity in request")
	}

	role := r.Header.Get(headerRole)
	if role != domain.RoleAdmin {
		role = domain.RoleUser
	}

	return domain.Identity{UserID: userID, Role: role}, nil
}
