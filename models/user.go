package models

import (
	"time"
)

// ChallengeUser mirrors a profile-service user into this service's database.
// Rows are written by the sync worker; the user directory reads them for
// judge-eligibility and actor checks. ExternalUserID is the identifier every
// other table stores.
type ChallengeUser struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	ExternalUserID string    `json:"external_user_id" gorm:"uniqueIndex;not null"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	AccountStatus  string    `json:"account_status" gorm:"type:varchar(16);default:'active'"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (ChallengeUser) TableName() string {
	return "challenge_users"
}
