package service

import (
	"errors"
	"fmt"

	"github.com/FernandoPintoL/ppsocket/internal/dto"
	"github.com/FernandoPintoL/ppsocket/internal/repository"
)

var (
	ErrBoardNotFound        = errors.New("board not found")
	ErrCollaboratorNotFound = errors.New("collaborator not found")
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrPersistence          = errors.New("persistence failure")
	ErrInvalidAction        = errors.New("invalid collaborator action")
	ErrUnknownEvent         = errors.New("unknown event")
	ErrNotInRoom            = errors.New("connection has not joined a room")
	ErrInternalServer       = errors.New("internal server error")
)

// mapRepoError 将仓库层错误映射为服务层错误，notFound 指定记录不存在时使用的错误。
func mapRepoError(err error, notFound error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

// clientMessage 生成发送给客户端的简短错误描述，不暴露存储细节
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrBoardNotFound):
		return "Board not found"
	case errors.Is(err, ErrCollaboratorNotFound):
		return "Collaborator not found"
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, dto.ErrInvalidPayload):
		return "Malformed payload"
	case errors.Is(err, ErrPersistence):
		return "Could not save changes"
	case errors.Is(err, ErrInvalidAction):
		return "Invalid collaborator action"
	case errors.Is(err, ErrUnknownEvent):
		return "Unknown event"
	case errors.Is(err, ErrNotInRoom):
		return "Join a room first"
	default:
		return "Internal server error"
	}
}
