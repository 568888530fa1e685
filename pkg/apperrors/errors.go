package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError представляет ошибку валидации входных данных.
// Невалидный ввод никогда не исправляется молча.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ошибка валидации поля %s: %s", e.Field, e.Reason)
}

// NewValidation создает ошибку валидации
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError представляет отсутствие сущности
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s не найден: %s", e.Entity, e.Key)
}

// NewNotFound создает ошибку отсутствия сущности
func NewNotFound(entity, key string) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: key}
}

// ConflictError представляет нарушение машины состояний или конкурентный
// конфликт. Current содержит фактическое состояние для диагностики.
type ConflictError struct {
	Reason  string
	Current string
}

func (e *ConflictError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("конфликт состояния: %s", e.Reason)
	}
	return fmt.Sprintf("конфликт состояния: %s (текущий статус: %s)", e.Reason, e.Current)
}

// NewConflict создает ошибку конфликта состояния
func NewConflict(reason, current string) *ConflictError {
	return &ConflictError{Reason: reason, Current: current}
}

// FrozenError представляет отказ по замороженному аккаунту партнера.
// Отличим от обычной ошибки валидации: для пользователя это блокировка,
// а не неверный ввод.
type FrozenError struct {
	AffiliateID int64
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("аккаунт партнера %d заморожен", e.AffiliateID)
}

// NewFrozen создает ошибку замороженного аккаунта
func NewFrozen(affiliateID int64) *FrozenError {
	return &FrozenError{AffiliateID: affiliateID}
}

// InsufficientBalanceError представляет отказ списания из-за нехватки средств.
// Содержит запрошенную и доступную суммы.
type InsufficientBalanceError struct {
	RequestedCents int64
	AvailableCents int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("недостаточно средств: запрошено %d, доступно %d", e.RequestedCents, e.AvailableCents)
}

// NewInsufficientBalance создает ошибку нехватки средств
func NewInsufficientBalance(requested, available int64) *InsufficientBalanceError {
	return &InsufficientBalanceError{RequestedCents: requested, AvailableCents: available}
}

// IsValidation проверяет, является ли ошибка ошибкой валидации
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFound проверяет, является ли ошибка отсутствием сущности
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsConflict проверяет, является ли ошибка конфликтом состояния
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsFrozen проверяет, является ли ошибка блокировкой замороженного аккаунта
func IsFrozen(err error) bool {
	var e *FrozenError
	return errors.As(err, &e)
}

// IsInsufficientBalance проверяет, является ли ошибка нехваткой средств
func IsInsufficientBalance(err error) bool {
	var e *InsufficientBalanceError
	return errors.As(err, &e)
}
