package app

import (
	"gorm.io/gorm"

	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
)

// AutoMigrate creates or updates the mirror store tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Project{},
		&model.ChainTransaction{},
	)
}
