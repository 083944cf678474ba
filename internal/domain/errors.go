package domain

import "errors"

// 错误分类：调用方输入错误在持久化之前拒绝；单个任务失败只记录不抛出
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrBadRequest      = errors.New("bad request")
	ErrSubmission      = errors.New("submission error")
	ErrDuplicateGroup  = errors.New("duplicate task group")
	ErrVersionConflict = errors.New("task group version conflict")
)
