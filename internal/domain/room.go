package domain

// PresenceState 描述 (board, user) 在房间中的状态。
type PresenceState string

const (
	PresenceNone        PresenceState = "none"
	PresencePendingJoin PresenceState = "pending-join"
	PresenceActive      PresenceState = "active"
	PresenceRemoved     PresenceState = "removed"
)

// StatusActive 是新加入协作者的默认状态。
const StatusActive = "active"

// Participant 是当前连接在某个房间里的用户 (只存在于内存)。
type Participant struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}
