package postgres

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FunctionModel maps to the "functions" table.
type FunctionModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name           string    `gorm:"not null;index"`
	Description    string    `gorm:"type:text"`
	FunctionName   string    `gorm:"not null;default:''"`
	ParameterNames string    `gorm:"not null;default:''"`
	BodySource     string    `gorm:"type:text;not null"`
	ArgumentsText  string    `gorm:"type:text;not null;default:''"`
	Schedule       string    `gorm:"not null;default:'';index"`
	CreatedBy      string    `gorm:"not null;default:'';index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

func (FunctionModel) TableName() string { return "functions" }
