package service

import (
	"Storefront/internal/model"
	"Storefront/internal/repository"
)

// foldInto 将 from 的消息与本地状态并入 into 并移除 from，
// 保证同一对方在快照中只剩一个条目
func foldInto(snap repository.Snapshot, from, into model.Conversation) repository.Snapshot {
	into.IsActive = into.IsActive || from.IsActive
	if into.CounterpartyID == 0 {
		into.CounterpartyID = from.CounterpartyID
	}
	if into.CounterpartyDisplayName == "" {
		into.CounterpartyDisplayName = from.CounterpartyDisplayName
	}
	if from.ListedAt.After(into.ListedAt) {
		into.ListedAt = from.ListedAt
	}
	if from.UnreadCount > into.UnreadCount {
		into.UnreadCount = from.UnreadCount
	}

	snap = snap.Remove(from.ID)
	snap = snap.Upsert(into)
	for _, m := range from.Messages {
		snap, _ = snap.AppendMessage(into.ID, m)
	}
	return snap
}

// claimCounterparty 真实会话 id 即将写入时，按对方 ID 找出并合并冲突条目（占位或过期会话）。
// 返回被合并条目的 id，无冲突时为 0
func claimCounterparty(snap repository.Snapshot, id, counterpartyID int64, seed model.Conversation) (repository.Snapshot, int64) {
	if counterpartyID == 0 {
		return snap, 0
	}
	other, ok := snap.ByCounterparty(counterpartyID)
	if !ok || other.ID == id {
		return snap, 0
	}

	into, exists := snap.Get(id)
	if !exists {
		into = seed
		into.ID = id
		into.CounterpartyID = counterpartyID
	}
	return foldInto(snap, other, into), other.ID
}

// mergeListing 合并列表快照中的一项。快照时间不早于本地时以快照元数据为准，
// 消息、激活状态始终保留本地值
func mergeListing(snap repository.Snapshot, item model.Conversation) (repository.Snapshot, int64) {
	snap, folded := claimCounterparty(snap, item.ID, item.CounterpartyID, model.Conversation{})

	incoming := item.Messages
	merged := item
	merged.Messages = nil
	merged.IsActive = false
	merged.ListedAt = item.LastMessageTime

	if local, ok := snap.Get(item.ID); ok {
		merged.Messages = local.Messages
		merged.IsActive = local.IsActive
		if merged.CounterpartyDisplayName == "" {
			merged.CounterpartyDisplayName = local.CounterpartyDisplayName
		}
		if merged.CounterpartyID == 0 {
			merged.CounterpartyID = local.CounterpartyID
		}
		if local.LastMessageTime.After(item.LastMessageTime) {
			merged.LastMessageTime = local.LastMessageTime
			merged.LastMessagePreview = local.LastMessagePreview
			merged.UnreadCount = local.UnreadCount
		}
		if local.IsActive {
			merged.UnreadCount = local.UnreadCount
		}
	}
	if merged.UnreadCount < 0 {
		merged.UnreadCount = 0
	}

	snap = snap.Upsert(merged)
	for _, m := range incoming {
		snap, _ = snap.AppendMessage(item.ID, m)
	}
	return snap, folded
}
