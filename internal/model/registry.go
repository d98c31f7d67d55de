package model

// AllModels 返回所有需要迁移的数据库模型对象
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&ApprovedAddress{},
		&Transfer{},
		&PendingTransaction{},
		&OutboxMessage{},
	}
}
