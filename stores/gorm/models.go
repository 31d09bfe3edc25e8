//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// JSONText is a helper type for storing serialized JSON in GORM
type JSONText []byte

func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONText) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONText(v)
	default:
		return fmt.Errorf("unsupported JSONText source %T", value)
	}
	return nil
}

// SessionTokenModel is the GORM model for a persisted session
type SessionTokenModel struct {
	Namespace    string    `gorm:"primaryKey;size:128"`
	AccessToken  string    `gorm:"type:text"`
	RefreshToken string    `gorm:"type:text"`
	User         JSONText  `gorm:"type:text"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (SessionTokenModel) TableName() string {
	return "session_tokens"
}
