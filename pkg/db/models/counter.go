package models

// Counter backs the gap-tolerant order number sequence. One row per
// (name, year) pair, bumped atomically with an upsert.
type Counter struct {
	Name     string `gorm:"column:name;primaryKey"`
	Year     int    `gorm:"column:year;primaryKey"`
	Sequence int64  `gorm:"column:sequence;not null;default:0"`
}

// TableName keeps the plural-free name the upsert SQL references.
func (Counter) TableName() string {
	return "counters"
}
