package model

// EventType 服务端推送事件类型
type EventType string

const (
	EventMessageReceived          EventType = "MessageReceived"
	EventNotificationMarkedAsRead EventType = "NotificationMarkedAsRead"
	EventServerError              EventType = "ServerError"
)

// Event 推送通道入站事件
type Event struct {
	Type           EventType
	Message        *Message // MessageReceived
	ConversationID int64    // NotificationMarkedAsRead
	Error          string   // ServerError
}

// CommandType 推送通道出站命令类型
type CommandType string

const (
	CommandJoin        CommandType = "Join"
	CommandLeave       CommandType = "Leave"
	CommandSendMessage CommandType = "SendMessage"
	CommandMarkAsRead  CommandType = "MarkAsRead"
)

// Command 推送通道出站命令
type Command struct {
	Type             CommandType
	ConversationID   int64
	CounterpartyID   int64
	Text             string
	Attachments      []Attachment
	ContextProductID *int64
}

func JoinCommand(conversationID int64) Command {
	return Command{Type: CommandJoin, ConversationID: conversationID}
}

func LeaveCommand(conversationID int64) Command {
	return Command{Type: CommandLeave, ConversationID: conversationID}
}

func MarkAsReadCommand(conversationID int64) Command {
	return Command{Type: CommandMarkAsRead, ConversationID: conversationID}
}

func SendMessageCommand(counterpartyID int64, text string, attachments []Attachment, contextProductID *int64) Command {
	return Command{
		Type:             CommandSendMessage,
		CounterpartyID:   counterpartyID,
		Text:             text,
		Attachments:      attachments,
		ContextProductID: contextProductID,
	}
}
