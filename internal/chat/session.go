// Package chat — клиентское состояние единственной общей комнаты: список сообщений,
// синхронизированный с фидом, индикатор набора, поле ввода и связующая их комната.
package chat

// Session — вошедший пользователь. Выдаётся авторизацией и передаётся каждому
// компоненту, которому нужно знать "кто я".
type Session struct {
	UserID string
	Email  string
}
