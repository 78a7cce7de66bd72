package realtime

import (
	"Storefront/internal/model"
	"fmt"
	"time"
)

// trigger 驱动连接状态机的输入
type trigger int8

const (
	triggerStart trigger = iota
	triggerConnected
	triggerFailed
	triggerLost
	triggerRetry
	triggerStop
)

func (t trigger) String() string {
	switch t {
	case triggerStart:
		return "start"
	case triggerConnected:
		return "connected"
	case triggerFailed:
		return "failed"
	case triggerLost:
		return "lost"
	case triggerRetry:
		return "retry"
	case triggerStop:
		return "stop"
	}
	return "unknown"
}

// machine 连接状态机的值，attempt 为当前重连序号
type machine struct {
	state   model.ConnectionState
	attempt int
}

// next 纯函数：给定输入计算下一个状态，非法迁移返回 error 且状态不变
func (m machine) next(t trigger) (machine, error) {
	if t == triggerStop {
		return machine{state: model.Disconnected}, nil
	}

	switch m.state {
	case model.Disconnected:
		switch t {
		case triggerStart:
			return machine{state: model.Connecting}, nil
		case triggerRetry:
			return machine{state: model.Reconnecting, attempt: m.attempt}, nil
		}
	case model.Connecting:
		switch t {
		case triggerConnected:
			return machine{state: model.Connected}, nil
		case triggerFailed:
			return machine{state: model.Disconnected}, nil
		}
	case model.Connected:
		if t == triggerLost {
			return machine{state: model.Reconnecting}, nil
		}
	case model.Reconnecting:
		switch t {
		case triggerConnected:
			return machine{state: model.Connected}, nil
		case triggerFailed:
			// 重连期间失败保持 Reconnecting，只有首次建连失败才进入 Disconnected
			return machine{state: model.Reconnecting, attempt: m.attempt + 1}, nil
		case triggerRetry:
			return m, nil
		}
	}
	return m, fmt.Errorf("invalid transition %s on %s", t, m.state)
}

// delay 当前状态下进入下一次连接前的等待
func (m machine) delay() time.Duration {
	return RetryDelay(m.attempt)
}
