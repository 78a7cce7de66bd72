package realtime

import "time"

// reconnectSchedule 固定重连间隔，超出部分重复最后一项，不设上限
var reconnectSchedule = [...]time.Duration{
	0,
	2 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// RetryDelay 第 attempt 次重连前的等待时间
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(reconnectSchedule) {
		attempt = len(reconnectSchedule) - 1
	}
	return reconnectSchedule[attempt]
}
