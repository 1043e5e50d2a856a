package model

// CompanionKV is the single-table persistent key-value substrate. Values are
// opaque strings; envelope validation happens above the store.
type CompanionKV struct {
	Key       string `gorm:"column:key;type:text;primaryKey"`
	Value     string `gorm:"column:value;type:text;not null"`
	UpdatedAt string `gorm:"column:updated_at;type:text;not null"`
}

func (CompanionKV) TableName() string {
	return "companion_kv"
}
