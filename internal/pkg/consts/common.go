package consts

const (
	// ChatHubPath 推送通道固定路径后缀
	ChatHubPath = "/hubs/chat"
)

const (
	ConversationListPath    = "/api/im/conversations"
	ConversationHistoryPath = "/api/im/conversations/%d/messages"
	SendMessagePath         = "/api/im/messages"
	MarkAsReadPath          = "/api/im/read"
)

const (
	TracePrefixSession = "sync-"
	TracePrefixResync  = "job-resync-"
	TracePrefixRead    = "read-"
)
