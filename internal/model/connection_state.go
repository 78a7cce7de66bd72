package model

// ConnectionState 推送通道连接状态
type ConnectionState int8

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// StateChange 连接状态迁移通知
type StateChange struct {
	From    ConnectionState
	To      ConnectionState
	Attempt int
	Cause   error
}
