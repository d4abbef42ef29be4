package model

// Profile — публичные данные пользователя. Клиент чата их только читает.
type Profile struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url"`
}
