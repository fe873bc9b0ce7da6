package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// DefaultBoardName 是按需创建画板时使用的名称。
const DefaultBoardName = "New Pizarra"

// Board 表示一个可协作编辑的画板 (持久化)。
type Board struct {
	ID            uint                              `gorm:"primaryKey" json:"id"`
	Name          string                            `gorm:"size:255;not null;default:''" json:"name"`
	RoomKey       *string                           `gorm:"uniqueIndex;size:191" json:"roomId,omitempty"` // 每个房间最多绑定一个画板
	UserID        uint                              `gorm:"index;not null" json:"userId"`                 // 最后一次改名的用户
	Elements      datatypes.JSON                    `gorm:"not null" json:"elements"`
	Collaborators datatypes.JSONSlice[Collaborator] `json:"collaborators"` // CollaboratorMembership 的非规范化副本
	CreatedAt     time.Time                         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time                         `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 沿用原有的表名。
func (Board) TableName() string { return "pizarras" }

// NewBoard 创建一个空白画板，elements 与协作者列表都为空。
func NewBoard(id uint, roomKey string, ownerID uint) *Board {
	b := &Board{
		ID:            id,
		Name:          DefaultBoardName,
		UserID:        ownerID,
		Elements:      datatypes.JSON("[]"),
		Collaborators: datatypes.JSONSlice[Collaborator]{},
	}
	if roomKey != "" {
		key := roomKey
		b.RoomKey = &key
	}
	return b
}

// Room 返回画板绑定的房间 key，没有绑定时返回空字符串。
func (b *Board) Room() string {
	if b == nil || b.RoomKey == nil {
		return ""
	}
	return *b.RoomKey
}

// ElementList 将存储的 elements 物化为有序序列。
// 存储内容损坏时返回空序列，调用方不会拿到 nil。
func (b *Board) ElementList() []json.RawMessage {
	if b == nil || len(b.Elements) == 0 {
		return []json.RawMessage{}
	}
	list, err := decodeElementArray(b.Elements)
	if err != nil {
		return []json.RawMessage{}
	}
	return list
}

// CollaboratorList 返回协作者列表的副本。
func (b *Board) CollaboratorList() []Collaborator {
	if b == nil {
		return []Collaborator{}
	}
	out := make([]Collaborator, len(b.Collaborators))
	copy(out, b.Collaborators)
	return out
}

// HasCollaborator 判断 userID 是否已在非规范化列表中。
func (b *Board) HasCollaborator(userID uint) bool {
	for _, c := range b.Collaborators {
		if c.ID == userID {
			return true
		}
	}
	return false
}

// AddCollaborator 在用户不存在时追加，返回是否发生了变更。
func (b *Board) AddCollaborator(c Collaborator) bool {
	if b.HasCollaborator(c.ID) {
		return false
	}
	b.Collaborators = append(b.Collaborators, c)
	return true
}

// RemoveCollaborator 过滤掉指定用户，返回是否发生了变更。
func (b *Board) RemoveCollaborator(userID uint) bool {
	kept := make(datatypes.JSONSlice[Collaborator], 0, len(b.Collaborators))
	for _, c := range b.Collaborators {
		if c.ID != userID {
			kept = append(kept, c)
		}
	}
	changed := len(kept) != len(b.Collaborators)
	b.Collaborators = kept
	return changed
}

// SetCollaboratorStatus 改写列表中该用户的状态，返回是否找到该用户。
func (b *Board) SetCollaboratorStatus(userID uint, status string) bool {
	for i := range b.Collaborators {
		if b.Collaborators[i].ID == userID {
			b.Collaborators[i].Status = status
			return true
		}
	}
	return false
}
