package repository

import (
	"errors"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

// psql строит запросы с плейсхолдерами $1, $2, ... (формат pgx).
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
