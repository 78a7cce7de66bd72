package handler

import (
	"Storefront/internal/api/dto"
	"Storefront/internal/model"
	"Storefront/internal/pkg/response"
	"Storefront/internal/pkg/util"
	"Storefront/internal/service"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
)

type IMHandler struct {
	session *service.Session
}

func NewIMHandler(session *service.Session) *IMHandler {
	return &IMHandler{session: session}
}

// Status 连接与同步状态
func (s *IMHandler) Status(c *gin.Context) {
	im := s.session.IM()
	active, _ := im.ActiveConversation()
	response.Success(c, &dto.StatusDTO{
		State:                s.session.State().String(),
		ActiveConversationID: active,
		Conversations:        len(im.Conversations()),
		TotalUnread:          im.TotalUnread(),
		PendingSends:         len(im.PendingSends()),
	})
}

// ListConversations 会话列表，不含消息
func (s *IMHandler) ListConversations(c *gin.Context) {
	list := s.session.IM().Conversations()
	for i := range list {
		list[i].Messages = nil
	}
	response.Success(c, list)
}

// GetConversation 单个会话及其消息
func (s *IMHandler) GetConversation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	conv, found := s.session.IM().Conversation(id)
	if !found {
		response.Error(c, service.ErrConversationNotFound)
		return
	}
	response.Success(c, conv)
}

// StartConversation 与对方开始会话，无会话时返回占位会话
func (s *IMHandler) StartConversation(c *gin.Context) {
	var req dto.StartConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Fail(c, response.BadRequest, err.Error())
		return
	}
	conv, err := s.session.IM().StartConversation(req.CounterpartyID, req.DisplayName)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

// OpenConversation 激活会话
func (s *IMHandler) OpenConversation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.session.IM().OpenConversation(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// CloseConversation 取消激活会话
func (s *IMHandler) CloseConversation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.session.IM().CloseConversation(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// SendMessage 在会话中发送消息；失败时仍返回待发送记录以便重试
func (s *IMHandler) SendMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.ComposeMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	var attachments []model.Attachment
	if len(req.Attachments) > 0 {
		if err := copier.Copy(&attachments, &req.Attachments); err != nil {
			response.Error(c, service.ErrParamInvalid)
			return
		}
	}

	ps, err := s.session.IM().SendMessage(c.Request.Context(), id, req.Text, attachments, req.ContextProductID)
	s.writeSend(c, ps, err)
}

// RetrySend 重试失败的发送
func (s *IMHandler) RetrySend(c *gin.Context) {
	ps, err := s.session.IM().RetrySend(c.Request.Context(), c.Param("local_id"))
	s.writeSend(c, ps, err)
}

// DiscardSend 丢弃失败的发送
func (s *IMHandler) DiscardSend(c *gin.Context) {
	if err := s.session.IM().DiscardSend(c.Param("local_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// PendingSends 待确认与失败的发送
func (s *IMHandler) PendingSends(c *gin.Context) {
	list := s.session.IM().PendingSends()
	res := make([]*dto.PendingSendDTO, 0, len(list))
	for i := range list {
		res = append(res, dto.NewPendingSendDTO(&list[i]))
	}
	response.Success(c, res)
}

// LoadHistory 拉取更早的历史消息
func (s *IMHandler) LoadHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	before, _ := strconv.ParseInt(c.Query("before"), 10, 64)
	hasMore, err := s.session.IM().LoadHistory(c.Request.Context(), id, before)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"hasMore": hasMore})
}

// Refresh 立即刷新会话列表
func (s *IMHandler) Refresh(c *gin.Context) {
	if err := s.session.IM().RefreshConversations(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func (s *IMHandler) writeSend(c *gin.Context, ps model.PendingSend, err error) {
	if err == nil {
		response.Success(c, dto.NewPendingSendDTO(&ps))
		return
	}
	var sendErr *service.SendError
	if errors.As(err, &sendErr) {
		response.FailWithData(c, response.InternalServerError, err.Error(), dto.NewPendingSendDTO(&ps))
		return
	}
	response.Error(c, err)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(c, service.ErrParamInvalid)
		return 0, false
	}
	return id, true
}
