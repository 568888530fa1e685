package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Код ошибки PostgreSQL для нарушения уникальности
const uniqueViolationCode = "23505"

// isUniqueViolation проверяет, вызвана ли ошибка нарушением уникального индекса
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
