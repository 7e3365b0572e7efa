package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization — профиль организации, создаваемый после регистрации
// аккаунта с ролью Organization. У пользователя может быть не более
// одной организации (уникальность по user_id).
type Organization struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Name       string
	CategoryID int64
	CreatedAt  time.Time
}

// Category — справочная категория организаций (концерты, спорт, театр и т.п.).
// Таблица заполняется миграцией и используется только для проверки внешнего ключа.
type Category struct {
	ID   int64
	Name string
}
