package realtime

import (
	"Storefront/internal/api/dto"
	"Storefront/internal/model"
	"Storefront/internal/pkg/util"

	"github.com/goccy/go-json"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
)

var ErrUnknownEvent = errors.New("unknown event type")

// frame 推送通道的统一信封
type frame struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data,omitempty"`
}

type conversationPayload struct {
	ConversationID int64 `json:"conversationId"`
}

type sendPayload struct {
	CounterpartyID   int64               `json:"counterpartyId"`
	Text             string              `json:"text"`
	Attachments      []dto.AttachmentDTO `json:"attachments,omitempty"`
	ContextProductID *int64              `json:"contextProductId,omitempty"`
}

// EncodeCommand 出站命令编码为 JSON 帧
func EncodeCommand(cmd model.Command) ([]byte, error) {
	var payload any
	switch cmd.Type {
	case model.CommandJoin, model.CommandLeave, model.CommandMarkAsRead:
		payload = conversationPayload{ConversationID: cmd.ConversationID}
	case model.CommandSendMessage:
		p := sendPayload{
			CounterpartyID:   cmd.CounterpartyID,
			Text:             cmd.Text,
			ContextProductID: cmd.ContextProductID,
		}
		if len(cmd.Attachments) > 0 {
			if err := copier.Copy(&p.Attachments, &cmd.Attachments); err != nil {
				return nil, errors.Wrap(err, "copy attachments")
			}
		}
		payload = p
	default:
		return nil, errors.Errorf("unknown command type %q", cmd.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal command payload")
	}
	return json.Marshal(frame{Type: string(cmd.Type), Data: data})
}

// DecodeEvent 解析入站帧，结构不合法的帧返回 error 由调用方丢弃
func DecodeEvent(raw []byte) (model.Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return model.Event{}, errors.Wrap(err, "unmarshal frame")
	}
	if err := util.ValidateDTO(&f); err != nil {
		return model.Event{}, err
	}

	switch model.EventType(f.Type) {
	case model.EventMessageReceived:
		var d dto.MessageDTO
		if err := decodePayload(f.Data, &d); err != nil {
			return model.Event{}, err
		}
		m, err := d.ToModel()
		if err != nil {
			return model.Event{}, errors.Wrap(err, "map message")
		}
		return model.Event{Type: model.EventMessageReceived, Message: &m}, nil

	case model.EventNotificationMarkedAsRead:
		var d dto.ReadNotificationDTO
		if err := decodePayload(f.Data, &d); err != nil {
			return model.Event{}, err
		}
		return model.Event{Type: model.EventNotificationMarkedAsRead, ConversationID: d.ConversationID}, nil

	case model.EventServerError:
		var d dto.ServerErrorDTO
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &d); err != nil {
				// 兼容直接下发字符串
				var s string
				if json.Unmarshal(f.Data, &s) != nil {
					return model.Event{}, errors.Wrap(err, "unmarshal server error")
				}
				d.Message = s
			}
		}
		return model.Event{Type: model.EventServerError, Error: d.Message}, nil
	}
	return model.Event{}, errors.Wrapf(ErrUnknownEvent, "%q", f.Type)
}

func decodePayload(data json.RawMessage, out any) error {
	if len(data) == 0 {
		return errors.New("missing event payload")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "unmarshal payload")
	}
	return util.ValidateDTO(out)
}
