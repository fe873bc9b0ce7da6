package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/FernandoPintoL/ppsocket/internal/dto"
	"github.com/FernandoPintoL/ppsocket/internal/metrics"
	"github.com/FernandoPintoL/ppsocket/internal/repository"
)

// DocumentSync 处理画板内容和名称的同步。
// 规则：能解析到画板时先持久化，再转发给房间内其他连接 (不回显给发送者)；
// 持久化失败时仍然转发，错误只报告给发送者。
type DocumentSync struct {
	registry  *RoomRegistry
	boards    repository.BoardRepository
	transport Transport
	metrics   *metrics.Metrics
}

// NewDocumentSync 创建 DocumentSync 实例
func NewDocumentSync(registry *RoomRegistry, boards repository.BoardRepository, transport Transport, m *metrics.Metrics) *DocumentSync {
	if registry == nil || boards == nil || transport == nil {
		panic("RoomRegistry, BoardRepository and Transport must be non-nil for DocumentSync")
	}
	return &DocumentSync{registry: registry, boards: boards, transport: transport, metrics: m}
}

// FormUpdate 整体替换画板的元素集合 (整集合粒度的后写者胜)。raw 是原始负载，原样转发。
func (s *DocumentSync) FormUpdate(ctx context.Context, conn Conn, p dto.FormUpdatePayload, raw json.RawMessage) error {
	roomKey := p.RoomID.String()
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": conn.ID(), "room_id": roomKey, "board_id": uint(p.BoardID)})

	err := s.persistElements(ctx, p, logCtx)
	s.transport.ToRoom(roomKey, dto.EventFormUpdate, raw, conn)
	return err
}

func (s *DocumentSync) persistElements(ctx context.Context, p dto.FormUpdatePayload, logCtx *logrus.Entry) error {
	// 解析失败时不触碰已存储的元素
	elements, err := domain.ParseElements(p.Elements)
	if err != nil {
		logCtx.WithError(err).Warn("Malformed elements in formUpdate, relaying without persisting")
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	board, err := s.registry.ResolveBoard(ctx, uint(p.BoardID), p.RoomID.String())
	if err != nil {
		if errors.Is(err, ErrBoardNotFound) {
			logCtx.Warn("No board for formUpdate, relaying without persisting")
			return nil
		}
		logCtx.WithError(err).Error("Failed to resolve board for formUpdate")
		return err
	}

	err = s.registry.Serialize(board.ID, func() error {
		return s.boards.UpdateElements(ctx, board.ID, elements)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logCtx.Warn("Board vanished before elements update")
			return nil
		}
		logCtx.WithError(err).Error("Failed to persist board elements")
		s.metrics.PersistenceFailed("update_elements")
		return fmt.Errorf("%w: update elements: %v", ErrPersistence, err)
	}
	logCtx.WithField("board_id", board.ID).Debug("Board elements persisted")
	return nil
}

// FormNameChange 更新画板名称和最后修改者，解析与转发规则同 FormUpdate
func (s *DocumentSync) FormNameChange(ctx context.Context, conn Conn, p dto.FormNameChangePayload, raw json.RawMessage) error {
	roomKey := p.RoomID.String()
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": conn.ID(), "room_id": roomKey, "board_id": uint(p.BoardID), "user_id": uint(p.UserID)})

	err := s.persistName(ctx, p, logCtx)
	s.transport.ToRoom(roomKey, dto.EventFormNameChange, raw, conn)
	return err
}

func (s *DocumentSync) persistName(ctx context.Context, p dto.FormNameChangePayload, logCtx *logrus.Entry) error {
	board, err := s.registry.ResolveBoard(ctx, uint(p.BoardID), p.RoomID.String())
	if err != nil {
		if errors.Is(err, ErrBoardNotFound) {
			logCtx.Warn("No board for formNameChange, relaying without persisting")
			return nil
		}
		logCtx.WithError(err).Error("Failed to resolve board for formNameChange")
		return err
	}

	err = s.registry.Serialize(board.ID, func() error {
		return s.boards.UpdateName(ctx, board.ID, p.Name, uint(p.UserID))
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logCtx.Warn("Board vanished before name update")
			return nil
		}
		logCtx.WithError(err).Error("Failed to persist board name")
		s.metrics.PersistenceFailed("update_name")
		return fmt.Errorf("%w: update name: %v", ErrPersistence, err)
	}
	return nil
}

// Relay 原样转发给房间内其他连接，不做持久化也不校验 (widget-*、typing)。
// widget 事件携带的是客户端元素集合的下标，持久化的元素快照可能暂时落后，
// 直到下一次 formUpdate 整体覆盖。
func (s *DocumentSync) Relay(conn Conn, roomKey, event string, raw json.RawMessage) {
	s.transport.ToRoom(roomKey, event, raw, conn)
}
