package model

import "time"

// SenderRole 消息发送方角色
type SenderRole string

const (
	SenderCustomer     SenderRole = "customer"
	SenderCounterparty SenderRole = "counterparty"
)

func (r SenderRole) Valid() bool {
	return r == SenderCustomer || r == SenderCounterparty
}

// MessageStatus 本地投递状态，不参与服务端序列化
type MessageStatus int8

const (
	MessageConfirmed MessageStatus = iota
	MessagePending
	MessageFailed
)

// Attachment 消息附件
type Attachment struct {
	MimeType string `json:"mimeType"`
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message 会话中的单条消息
type Message struct {
	ID             int64         `json:"id,omitempty"`      // 服务端确认后分配，0 表示待确认
	LocalID        string        `json:"localId,omitempty"` // 乐观发送时本地生成
	ConversationID int64         `json:"conversationId"`
	SenderID       int64         `json:"senderId"`
	RecipientID    int64         `json:"recipientId"`
	SenderRole     SenderRole    `json:"senderRole"`
	Text           string        `json:"text"`
	Timestamp      time.Time     `json:"timestamp"`
	ReadFlag       bool          `json:"readFlag"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Status         MessageStatus `json:"-"`
}

func (m *Message) Confirmed() bool {
	return m.ID != 0
}

// CounterpartyID 从当前用户视角推导对方 ID
func (m *Message) CounterpartyID() int64 {
	if m.SenderRole == SenderCounterparty {
		return m.SenderID
	}
	return m.RecipientID
}

// Preview 会话列表中展示的摘要
func (m *Message) Preview() string {
	if m.Text == "" && len(m.Attachments) > 0 {
		return "[attachment]"
	}
	return m.Text
}

// Less 消息排序：时间升序，同一时刻按 ID、LocalID 稳定排序
func (m *Message) Less(o *Message) bool {
	if !m.Timestamp.Equal(o.Timestamp) {
		return m.Timestamp.Before(o.Timestamp)
	}
	if m.ID != o.ID {
		return m.ID < o.ID
	}
	return m.LocalID < o.LocalID
}

func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return m
}
