package imapi

import (
	"Storefront/internal/api/dto"
	"Storefront/internal/pkg/consts"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

var ErrNoBaseURL = errors.New("rest base url not configured")

// CredentialFunc 每次请求前取当前凭据
type CredentialFunc func(ctx context.Context) (string, error)

// APIError 服务端返回的非成功响应
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("im api: status=%d code=%d msg=%s", e.Status, e.Code, e.Message)
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (e *envelope[T]) ok() bool {
	return e.Code == 0 || e.Code == 200
}

// Client 会话列表、历史、发送、已读回执的 REST 协作方
type Client struct {
	http     *resty.Client
	pageSize int
}

func New(baseURL string, timeout time.Duration, pageSize int, credential CredentialFunc) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	if credential != nil {
		http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			token, err := credential(r.Context())
			if err != nil {
				return errors.Wrap(err, "resolve credential")
			}
			if token != "" {
				r.SetAuthToken(strings.TrimPrefix(token, "Bearer "))
			}
			return nil
		})
	}

	return &Client{http: http, pageSize: pageSize}, nil
}

func (c *Client) PageSize() int {
	return c.pageSize
}

// ListConversations 会话列表，page 从 1 开始
func (c *Client) ListConversations(ctx context.Context, page int) (*dto.ConversationPageDTO, error) {
	out := &envelope[dto.ConversationPageDTO]{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("page", strconv.Itoa(page)).
		SetQueryParam("pageSize", strconv.Itoa(c.pageSize)).
		SetResult(out).
		Get(consts.ConversationListPath)
	if err := check(resp, err, out, "list conversations"); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetHistory 拉取 before 之前的一页历史，before 为 0 时从最新开始
func (c *Client) GetHistory(ctx context.Context, conversationID, before int64) (*dto.MessagePageDTO, error) {
	out := &envelope[dto.MessagePageDTO]{}
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("pageSize", strconv.Itoa(c.pageSize)).
		SetResult(out)
	if before > 0 {
		req.SetQueryParam("before", strconv.FormatInt(before, 10))
	}
	resp, err := req.Get(fmt.Sprintf(consts.ConversationHistoryPath, conversationID))
	if err := check(resp, err, out, "get history"); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// SendMessage 发送消息，返回服务端分配的消息与会话 ID
func (c *Client) SendMessage(ctx context.Context, body *dto.SendMessageReq) (*dto.SendMessageResp, error) {
	out := &envelope[dto.SendMessageResp]{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		Post(consts.SendMessagePath)
	if err := check(resp, err, out, "send message"); err != nil {
		return nil, err
	}
	if out.Data.MessageID == 0 || out.Data.ConversationID <= 0 {
		return nil, errors.Errorf("send message: incomplete ack %+v", out.Data)
	}
	return &out.Data, nil
}

// MarkAsRead 已读回执
func (c *Client) MarkAsRead(ctx context.Context, conversationID int64) error {
	out := &envelope[json.RawMessage]{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&dto.MarkAsReadReq{ConversationID: conversationID}).
		SetResult(out).
		Post(consts.MarkAsReadPath)
	return check(resp, err, out, "mark as read")
}

func check[T any](resp *resty.Response, err error, out *envelope[T], op string) error {
	if err != nil {
		return errors.Wrap(err, op)
	}
	if resp.IsError() {
		return errors.Wrap(&APIError{Status: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}, op)
	}
	if !out.ok() {
		return errors.Wrap(&APIError{Status: resp.StatusCode(), Code: out.Code, Message: out.Message}, op)
	}
	return nil
}
