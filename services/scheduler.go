// services/scheduler.go
package services

import (
	"log"
	"time"

	"challenge-arbitration-service/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// StartExpiryScheduler cancels stale challenges whose start date passed
// while the roster or judge never came together. Runs every minute.
func (s *ChallengeService) StartExpiryScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			var challenges []models.Challenge
			now := time.Now()
			err := s.DB.Where("status IN ? AND start_date <= ?",
				[]models.ChallengeStatus{models.ChallengeStatusPending, models.ChallengeStatusAccepted}, now).
				Find(&challenges).Error
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}

			for _, challenge := range challenges {
				if err := s.expireChallenge(challenge.ID); err != nil {
					log.Printf("[Scheduler] Failed to expire challenge %s: %v", challenge.ID, err)
				} else {
					log.Printf("[Scheduler] Expired unstarted challenge: %s", challenge.Title)
				}
			}
		}),
	)
}

// expireChallenge cancels one stale challenge with the usual guarded
// transition, so a concurrently-started challenge is left alone.
func (s *ChallengeService) expireChallenge(challengeID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := transitionStatus(tx, challengeID,
			[]models.ChallengeStatus{models.ChallengeStatusPending, models.ChallengeStatusAccepted},
			map[string]interface{}{"status": models.ChallengeStatusCancelled}); err != nil {
			return err
		}
		if err := tx.Model(&models.Participant{}).
			Where("challenge_id = ? AND status = ?", challengeID, models.ParticipantStatusPending).
			Update("status", models.ParticipantStatusCancelled).Error; err != nil {
			return err
		}
		return appendTimeline(tx, challengeID, models.EventChallengeExpired,
			"challenge start date passed before it could begin, cancelled", "system")
	})
}
