package model

import (
	"encoding/json"

	"gorm.io/gorm"
)

// CreateOutboxMessage 在同一个事务中创建业务数据和 Outbox 消息
// eventID 唯一，同一事件重复写入时忽略
func CreateOutboxMessage(tx *gorm.DB, topic, key, eventID string, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := OutboxMessage{
		Topic:   topic,
		Key:     key,
		EventID: eventID,
		Payload: payloadBytes,
		Status:  "PENDING",
	}

	return tx.Where(OutboxMessage{EventID: eventID}).FirstOrCreate(&msg).Error
}
