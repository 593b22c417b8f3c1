package utils

import (
	"context"

	"github.com/go-playground/validator/v10"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
)

// ValidateResourceId checks that a row of type T with the given id exists.
// Returns ErrorRecordNotFound when missing.
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

func ResourceCountWhere[T any](ctx context.Context, cond string, values ...interface{}) (int64, error) {
	db := config.GetDB()
	var model T
	var count int64
	err := db.WithContext(ctx).Model(&model).Where(cond, values...).Count(&count).Error
	return count, err
}

// ProcessValidationErrors flattens validator.v10 errors into field -> tag
// pairs for the HTTP response body.
func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		errorResponse["request"] = err.Error()
		return errorResponse
	}
	for _, fieldErr := range validationErrors {
		errorResponse[fieldErr.Field()] = fieldErr.Tag()
	}
	return errorResponse
}
