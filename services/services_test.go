package services

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"challenge-arbitration-service/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

// newTestDB opens a fresh in-memory database with the full schema. The shared
// cache keeps all pooled connections on the same memory database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:arbitration_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Challenge{},
		&models.Participant{},
		&models.Rule{},
		&models.RuleEvaluation{},
		&models.TimelineEvent{},
		&models.ChallengeUser{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, externalUserID string) {
	t.Helper()
	user := models.ChallengeUser{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		Username:       externalUserID,
		Email:          externalUserID + "@example.com",
		AccountStatus:  "active",
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user %s: %v", externalUserID, err)
	}
}

func newTestChallengeService(t *testing.T, db *gorm.DB) *ChallengeService {
	t.Helper()
	return NewChallengeService(db, NewGormUserDirectory(db), nil, nil)
}

// createTestChallenge seeds the users and creates a challenge with two
// mandatory rules and one optional rule.
func createTestChallenge(t *testing.T, svc *ChallengeService, creatorID string, challengerIDs ...string) *models.Challenge {
	t.Helper()
	seedUser(t, svc.DB, creatorID)
	for _, id := range challengerIDs {
		seedUser(t, svc.DB, id)
	}

	challenge, err := svc.CreateChallenge(CreateChallengeInput{
		Title:         "First to the summit",
		Description:   "Race to the top of the hill",
		CreatorID:     creatorID,
		ChallengerIDs: challengerIDs,
		StartDate:     time.Now().Add(24 * time.Hour),
		EndDate:       time.Now().Add(48 * time.Hour),
		EntryFee:      10,
		Prize:         "bragging rights",
		Rules: []RuleInput{
			{Description: "Reach the summit", IsMandatory: true},
			{Description: "No motorized transport", IsMandatory: true},
			{Description: "Photograph the view", IsMandatory: false},
		},
	})
	if err != nil {
		t.Fatalf("failed to create test challenge: %v", err)
	}
	return challenge
}

// advanceToInProgress accepts for every challenger, assigns the judge and
// accepts the assignment.
func advanceToInProgress(t *testing.T, svc *ChallengeService, challenge *models.Challenge, judgeID string, challengerIDs ...string) {
	t.Helper()
	for _, id := range challengerIDs {
		if _, err := svc.AcceptChallenge(challenge.ID, id); err != nil {
			t.Fatalf("challenger %s failed to accept: %v", id, err)
		}
	}
	seedUser(t, svc.DB, judgeID)
	if _, err := svc.AssignJudge(challenge.ID, challenge.CreatorID, judgeID); err != nil {
		t.Fatalf("failed to assign judge: %v", err)
	}
	if _, err := svc.AcceptJudgeAssignment(challenge.ID, judgeID); err != nil {
		t.Fatalf("judge failed to accept assignment: %v", err)
	}
}

func challengeStatus(t *testing.T, db *gorm.DB, challengeID string) models.ChallengeStatus {
	t.Helper()
	var challenge models.Challenge
	if err := db.First(&challenge, "id = ?", challengeID).Error; err != nil {
		t.Fatalf("failed to reload challenge: %v", err)
	}
	return challenge.Status
}

func countTimelineEvents(t *testing.T, db *gorm.DB, challengeID, eventType string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&models.TimelineEvent{}).
		Where("challenge_id = ? AND event_type = ?", challengeID, eventType).
		Count(&count).Error; err != nil {
		t.Fatalf("failed to count timeline events: %v", err)
	}
	return count
}

func participantByUser(t *testing.T, db *gorm.DB, challengeID, userID string) models.Participant {
	t.Helper()
	var p models.Participant
	if err := db.Where("challenge_id = ? AND user_id = ?", challengeID, userID).First(&p).Error; err != nil {
		t.Fatalf("failed to load participant %s: %v", userID, err)
	}
	return p
}
