// Package feed доставляет подписчикам события изменения строк (insert/update/delete).
// Драйверы отличаются только транспортом: Postgres LISTEN/NOTIFY, Redis pub/sub или
// relay по WebSocket. Раздача везде идёт через Bus.
package feed

import (
	"context"

	"github.com/chatflow/internal/model"
)

// Handler вызывается по разу на событие, в порядке доставки, в горутине подписки.
type Handler func(ctx context.Context, ev model.ChangeEvent)

// Subscription снимается через Unsubscribe; после возврата обработчик больше не вызывается.
type Subscription interface {
	Unsubscribe()
}

// Feed — источник подписок на изменения по таблицам.
type Feed interface {
	Subscribe(ctx context.Context, table string, h Handler) (Subscription, error)
	Close() error
}
