package service

import (
	"errors"
	"fmt"
)

const (
	BadRequest          = 400
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
	ServiceUnavailable  = 503
)

var (
	ErrParamInvalid         = errors.New("参数错误")
	ErrConversationNotFound = errors.New("会话不存在")
	ErrPendingSendNotFound  = errors.New("待发送消息不存在")
	ErrPendingSendNotFailed = errors.New("消息未处于失败状态")
	ErrInvalidCounterparty  = errors.New("对方用户无效")
	ErrEmptyMessage         = errors.New("消息内容为空")
	ErrNotConnected         = errors.New("推送通道未连接")
	ErrSessionClosed        = errors.New("会话已关闭")
	ErrSessionStarted       = errors.New("会话已启动")
	ErrRemoteUnavailable    = errors.New("REST 服务未配置")
	UnExpectedError         = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:         BadRequest,
	ErrConversationNotFound: NotFound,
	ErrPendingSendNotFound:  NotFound,
	ErrPendingSendNotFailed: Conflict,
	ErrInvalidCounterparty:  BadRequest,
	ErrEmptyMessage:         BadRequest,
	ErrNotConnected:         ServiceUnavailable,
	ErrSessionClosed:        ServiceUnavailable,
	ErrSessionStarted:       Conflict,
	ErrRemoteUnavailable:    ServiceUnavailable,
	UnExpectedError:         InternalServerError,
}

// SendError 乐观发送被拒绝，占位会话保留以便重试或丢弃
type SendError struct {
	LocalID        string
	ConversationID int64
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s in conversation %d failed: %v", e.LocalID, e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
