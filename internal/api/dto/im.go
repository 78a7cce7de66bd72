package dto

import (
	"Storefront/internal/model"
	"time"

	"github.com/jinzhu/copier"
)

// AttachmentDTO 附件
type AttachmentDTO struct {
	MimeType string `json:"mimeType" validate:"required"`
	URL      string `json:"url" validate:"required"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// MessageDTO 消息明细，REST 历史与推送共用
type MessageDTO struct {
	ID             int64           `json:"id" validate:"required"`
	ConversationID int64           `json:"conversationId" validate:"required"`
	SenderID       int64           `json:"senderId"`
	RecipientID    int64           `json:"recipientId"`
	SenderRole     string          `json:"senderRole" validate:"required"`
	Text           string          `json:"text"`
	Timestamp      time.Time       `json:"timestamp" validate:"required"`
	ReadFlag       bool            `json:"readFlag"`
	Attachments    []AttachmentDTO `json:"attachments" validate:"omitempty,dive"`
}

// ConversationDTO 会话列表项
type ConversationDTO struct {
	ID                      int64     `json:"id"`
	CounterpartyID          int64     `json:"counterpartyId"`
	CounterpartyDisplayName string    `json:"counterpartyDisplayName"`
	LastMessagePreview      string    `json:"lastMessagePreview"`
	LastMessageTime         time.Time `json:"lastMessageTime"`
	UnreadCount             int       `json:"unreadCount"`
}

// ConversationPageDTO 会话分页
type ConversationPageDTO struct {
	Items    []ConversationDTO `json:"items"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	HasMore  bool              `json:"hasMore"`
}

// MessagePageDTO 历史消息分页
type MessagePageDTO struct {
	Items   []MessageDTO `json:"items"`
	HasMore bool         `json:"hasMore"`
}

// SendMessageReq 发送消息请求体
type SendMessageReq struct {
	CounterpartyID   int64           `json:"counterpartyId"`
	Text             string          `json:"text"`
	Attachments      []AttachmentDTO `json:"attachments,omitempty"`
	ContextProductID *int64          `json:"contextProductId,omitempty"`
	ClientMessageID  string          `json:"clientMessageId"`
}

// SendMessageResp 发送确认
type SendMessageResp struct {
	MessageID      int64     `json:"messageId"`
	ConversationID int64     `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

// MarkAsReadReq 标记为已读请求
type MarkAsReadReq struct {
	ConversationID int64 `json:"conversationId"`
}

// ReadNotificationDTO 已读通知推送
type ReadNotificationDTO struct {
	ConversationID int64 `json:"conversationId" validate:"required"`
}

// ServerErrorDTO 服务端错误推送
type ServerErrorDTO struct {
	Message string `json:"message"`
}

// ToModel 转换为领域消息
func (d *MessageDTO) ToModel() (model.Message, error) {
	var m model.Message
	if err := copier.Copy(&m, d); err != nil {
		return model.Message{}, err
	}
	return m, nil
}

// ToModel 转换为领域会话
func (d *ConversationDTO) ToModel() (model.Conversation, error) {
	var c model.Conversation
	if err := copier.Copy(&c, d); err != nil {
		return model.Conversation{}, err
	}
	return c, nil
}

// NewSendMessageReq 由待发送记录构造请求体
func NewSendMessageReq(p *model.PendingSend) (*SendMessageReq, error) {
	req := &SendMessageReq{
		CounterpartyID:   p.CounterpartyID,
		Text:             p.Text,
		ContextProductID: p.ContextProductID,
		ClientMessageID:  p.LocalID,
	}
	if len(p.Attachments) > 0 {
		if err := copier.Copy(&req.Attachments, &p.Attachments); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// StartConversationReq 开始会话
type StartConversationReq struct {
	CounterpartyID int64  `json:"counterpartyId" validate:"required,gt=0"`
	DisplayName    string `json:"displayName"`
}

// ComposeMessageReq 本地发送请求
type ComposeMessageReq struct {
	Text             string          `json:"text"`
	Attachments      []AttachmentDTO `json:"attachments"`
	ContextProductID *int64          `json:"contextProductId"`
}

// PendingSendDTO 待发送记录
type PendingSendDTO struct {
	LocalID        string    `json:"localId"`
	ConversationID int64     `json:"conversationId"`
	CounterpartyID int64     `json:"counterpartyId"`
	Text           string    `json:"text"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
	MessageID      int64     `json:"messageId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func NewPendingSendDTO(p *model.PendingSend) *PendingSendDTO {
	d := &PendingSendDTO{
		LocalID:        p.LocalID,
		ConversationID: p.ConversationID,
		CounterpartyID: p.CounterpartyID,
		Text:           p.Text,
		Status:         p.Status.String(),
		Attempts:       p.Attempts,
		CreatedAt:      p.CreatedAt,
	}
	if p.Err != nil {
		d.Error = p.Err.Error()
	}
	if p.Ack != nil {
		d.MessageID = p.Ack.MessageID
	}
	return d
}

// ConversationChangeDTO 推送给本地订阅者的会话变更
type ConversationChangeDTO struct {
	ConversationID int64               `json:"conversationId"`
	Removed        bool                `json:"removed"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
	TotalUnread    int                 `json:"totalUnread"`
}
