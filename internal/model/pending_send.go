package model

import "time"

// SendStatus 乐观发送的生命周期
type SendStatus int8

const (
	SendPending SendStatus = iota
	SendAcked
	SendFailed
)

func (s SendStatus) String() string {
	switch s {
	case SendPending:
		return "pending"
	case SendAcked:
		return "acked"
	case SendFailed:
		return "failed"
	}
	return "unknown"
}

// PendingSend 本地已发出、等待服务端确认的消息
type PendingSend struct {
	LocalID          string
	ConversationID   int64 // 发送时所在会话，可能是占位 ID
	CounterpartyID   int64
	Text             string
	Attachments      []Attachment
	ContextProductID *int64
	CreatedAt        time.Time

	Status   SendStatus
	Err      error
	Ack      *SendAck
	Attempts int
}

// SendAck 服务端对发送的确认
type SendAck struct {
	MessageID      int64
	ConversationID int64
	Timestamp      time.Time
}
