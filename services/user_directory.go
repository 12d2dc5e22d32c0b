package services

import (
	"challenge-arbitration-service/models"

	"gorm.io/gorm"
)

// UserDirectory answers identity questions for actor and judge-eligibility
// checks. The production implementation reads the mirrored challenge_users
// table kept fresh by the sync worker.
type UserDirectory interface {
	Exists(userID string) (bool, error)
	IsParticipant(challengeID, userID string) (bool, error)
}

type GormUserDirectory struct {
	DB *gorm.DB
}

func NewGormUserDirectory(db *gorm.DB) *GormUserDirectory {
	return &GormUserDirectory{DB: db}
}

func (d *GormUserDirectory) Exists(userID string) (bool, error) {
	var count int64
	err := d.DB.Model(&models.ChallengeUser{}).
		Where("external_user_id = ? AND account_status = ?", userID, "active").
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *GormUserDirectory) IsParticipant(challengeID, userID string) (bool, error) {
	var count int64
	err := d.DB.Model(&models.Participant{}).
		Where("challenge_id = ? AND user_id = ?", challengeID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
