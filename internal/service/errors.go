package service

import (
	"errors"
	"fmt"
)

// ErrValidation 发布参数校验失败，未写入 outbox
var ErrValidation = errors.New("notification validation failed")

// ValidationError 指出具体不合法的字段
type ValidationError struct {
	Field string
	Rule  string
	Param string
}

func (e *ValidationError) Error() string {
	switch e.Rule {
	case "max":
		return fmt.Sprintf("%s: %s exceeds max length %s", ErrValidation, e.Field, e.Param)
	case "gt":
		return fmt.Sprintf("%s: %s must be greater than %s", ErrValidation, e.Field, e.Param)
	case "required":
		return fmt.Sprintf("%s: %s is required", ErrValidation, e.Field)
	default:
		return fmt.Sprintf("%s: %s failed %s", ErrValidation, e.Field, e.Rule)
	}
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
