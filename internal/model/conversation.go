package model

import "time"

// Conversation 会话摘要及其有序消息列表
type Conversation struct {
	ID                      int64     `json:"id"` // 负数为占位会话
	CounterpartyID          int64     `json:"counterpartyId"`
	CounterpartyDisplayName string    `json:"counterpartyDisplayName"`
	LastMessagePreview      string    `json:"lastMessagePreview"`
	LastMessageTime         time.Time `json:"lastMessageTime"`
	UnreadCount             int       `json:"unreadCount"`
	IsActive                bool      `json:"isActive"`
	Messages                []Message `json:"messages,omitempty"`

	// ListedAt 最近一次列表快照的最后消息时间，仅由列表合并推进
	ListedAt time.Time `json:"listedAt"`
}

// PlaceholderID 为尚无会话的对方生成占位 ID，真实 ID 恒为正
func PlaceholderID(counterpartyID int64) int64 {
	return -counterpartyID
}

// IsPlaceholderID 判断是否为占位会话 ID
func IsPlaceholderID(id int64) bool {
	return id < 0
}

func (c *Conversation) IsPlaceholder() bool {
	return IsPlaceholderID(c.ID)
}

// Clone 深拷贝消息列表，快照之间不共享可变切片
func (c Conversation) Clone() Conversation {
	if c.Messages != nil {
		msgs := make([]Message, len(c.Messages))
		for i := range c.Messages {
			msgs[i] = c.Messages[i].Clone()
		}
		c.Messages = msgs
	}
	return c
}

// ConversationChange 会话变更通知
type ConversationChange struct {
	ConversationID int64
	Removed        bool
}
