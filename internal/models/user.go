package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли пользователей платформы.
const (
	// RoleUser — обычный посетитель событий.
	RoleUser = "User"
	// RoleOrganization — аккаунт организации (создаёт события после настройки профиля).
	RoleOrganization = "Organization"
)

// User — учётная запись пользователя или организации.
//
// Описание:
//   - PasswordHash — bcrypt-хэш пароля; сам пароль нигде не хранится;
//   - EmailConfirmed — флаг подтверждения e-mail; без него вход запрещён;
//   - IsDeleted — мягкое удаление: запись остаётся, но любые операции
//     аутентификации для неё отклоняются;
//   - SecurityStamp — непрозрачное значение, которое меняется при каждой смене
//     учётных данных; к нему привязаны одноразовые токены (см. service);
//   - Roles — набор имён ролей (RoleUser/RoleOrganization), попадает в claims
//     access-токена.
type User struct {
	ID             uuid.UUID
	Email          string
	PasswordHash   string
	GivenName      string
	Surname        string
	EmailConfirmed bool
	IsDeleted      bool
	SecurityStamp  string
	Roles          []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasRole сообщает, содержит ли набор ролей пользователя роль role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}

	return false
}
