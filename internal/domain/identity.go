package domain

// Роли пользователей приходят от внешнего сервиса аутентификации
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity — проверенная личность вызывающего
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
