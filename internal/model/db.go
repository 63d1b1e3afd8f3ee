package model

// AllModels 需要迁移的表，按依赖顺序
func AllModels() []interface{} {
	return []interface{}{
		&Market{},
		&Bet{},
		&Transaction{},
	}
}
