package dto

// Response 统一返回结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// StatusDTO 会话同步状态
type StatusDTO struct {
	State                string `json:"state"`
	ActiveConversationID int64  `json:"activeConversationId"`
	Conversations        int    `json:"conversations"`
	TotalUnread          int    `json:"totalUnread"`
	PendingSends         int    `json:"pendingSends"`
}
