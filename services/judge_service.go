package services

import (
	"fmt"
	"time"

	"challenge-arbitration-service/apperrors"
	"challenge-arbitration-service/models"

	"gorm.io/gorm"
)

// JudgeService sequences the closed-machinery operations: closing a
// challenge (which materializes the compliance matrix), gating on matrix
// completeness, and winner determination. It is the only component that
// invokes the winner engine.
type JudgeService struct {
	DB          *gorm.DB
	Evaluations *EvaluationService
	Notifier    NotificationSink
	Rewards     RewardLedger
}

func NewJudgeService(db *gorm.DB, evaluations *EvaluationService, notifier NotificationSink, rewards RewardLedger) *JudgeService {
	return &JudgeService{DB: db, Evaluations: evaluations, Notifier: notifier, Rewards: rewards}
}

// CloseChallenge transitions in_progress → closed and materializes the full
// compliance matrix, atomically. Assigned judge only; requires at least one
// rule and one accepted participant.
func (s *JudgeService) CloseChallenge(challengeID, judgeID string) (*models.Challenge, error) {
	var challenge *models.Challenge
	var participantUserIDs []string

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		challenge, err = loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		if challenge.JudgeID == nil || *challenge.JudgeID != judgeID {
			return apperrors.New(apperrors.CodeUnauthorized, "only the assigned judge may close the challenge")
		}
		if challenge.Status != models.ChallengeStatusInProgress {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"challenge cannot be closed in status %s", challenge.Status)
		}

		var ruleCount int64
		if err := tx.Model(&models.Rule{}).
			Where("challenge_id = ?", challengeID).
			Count(&ruleCount).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to count rules", err)
		}
		if ruleCount == 0 {
			return apperrors.New(apperrors.CodeInvalidState, "challenge has no rules to evaluate")
		}

		var participants []models.Participant
		if err := tx.Where("challenge_id = ? AND status = ?", challengeID, models.ParticipantStatusAccepted).
			Find(&participants).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch participants", err)
		}
		if len(participants) == 0 {
			return apperrors.New(apperrors.CodeInvalidState, "challenge has no accepted participants")
		}
		for _, p := range participants {
			participantUserIDs = append(participantUserIDs, p.UserID)
		}

		now := time.Now()
		if err := transitionStatus(tx, challengeID,
			[]models.ChallengeStatus{models.ChallengeStatusInProgress},
			map[string]interface{}{
				"status":    models.ChallengeStatusClosed,
				"closed_at": now,
			}); err != nil {
			return err
		}
		challenge.Status = models.ChallengeStatusClosed
		challenge.ClosedAt = &now

		if err := s.Evaluations.MaterializeMatrix(tx, challenge); err != nil {
			return err
		}

		return appendTimeline(tx, challengeID, models.EventChallengeClosed,
			"challenge closed, compliance matrix materialized", judgeID)
	})
	if err != nil {
		return nil, err
	}

	for _, userID := range participantUserIDs {
		notify(s.Notifier, userID, NotifyEvaluationStarted, map[string]interface{}{
			"challenge_id": challengeID,
		})
	}

	return challenge, nil
}

// CanDetermineWinner reports whether the compliance matrix is fully
// evaluated, alongside the pending-cell list for caller feedback.
func (s *JudgeService) CanDetermineWinner(challengeID string) (bool, *EvaluationStatus, error) {
	status, err := s.Evaluations.Completeness(challengeID)
	if err != nil {
		return false, nil, err
	}
	return status.Complete(), status, nil
}

// DetermineWinner re-validates judge identity and state, auto-advances
// closed → judging on the first attempt, runs the winner engine over the
// completed matrix and atomically persists the verdict, participant results
// and the completed transition. If the matrix is incomplete it fails with
// EvaluationIncomplete carrying the pending-cell list and mutates nothing.
func (s *JudgeService) DetermineWinner(challengeID, judgeID string) (*models.Challenge, *WinnerOutcome, error) {
	var challenge *models.Challenge
	var outcome *WinnerOutcome
	var winnerUserID string
	var participantUserIDs []string

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		challenge, err = loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		if challenge.JudgeID == nil || *challenge.JudgeID != judgeID {
			return apperrors.New(apperrors.CodeUnauthorized, "only the assigned judge may determine the winner")
		}
		if challenge.Status != models.ChallengeStatusClosed && challenge.Status != models.ChallengeStatusJudging {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"winner cannot be determined in status %s", challenge.Status)
		}

		status, err := completenessInTx(tx, challengeID)
		if err != nil {
			return err
		}
		if !status.Complete() {
			return apperrors.Newf(apperrors.CodeEvaluationIncomplete,
				"%d of %d compliance cells still pending",
				len(status.PendingCells), status.TotalCells).
				WithDetails(status)
		}

		if challenge.Status == models.ChallengeStatusClosed {
			now := time.Now()
			if err := transitionStatus(tx, challengeID,
				[]models.ChallengeStatus{models.ChallengeStatusClosed},
				map[string]interface{}{
					"status":             models.ChallengeStatusJudging,
					"judging_started_at": now,
				}); err != nil {
				return err
			}
			challenge.Status = models.ChallengeStatusJudging
			challenge.JudgingStartedAt = &now
			if err := appendTimeline(tx, challengeID, models.EventJudgingStarted,
				"judging started", judgeID); err != nil {
				return err
			}
		}

		var rules []models.Rule
		if err := tx.Where("challenge_id = ?", challengeID).Find(&rules).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch rules", err)
		}
		var participants []models.Participant
		if err := tx.Where("challenge_id = ? AND status = ?", challengeID, models.ParticipantStatusAccepted).
			Find(&participants).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch participants", err)
		}
		var cells []models.RuleEvaluation
		if err := tx.Where("challenge_id = ?", challengeID).Find(&cells).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch compliance cells", err)
		}

		outcome, err = DetermineWinnerFromMatrix(participants, rules, cells)
		if err != nil {
			return err
		}

		now := time.Now()
		if err := transitionStatus(tx, challengeID,
			[]models.ChallengeStatus{models.ChallengeStatusJudging},
			map[string]interface{}{
				"status":        models.ChallengeStatusCompleted,
				"winner_id":     outcome.WinnerID,
				"winner_reason": outcome.Reason,
				"completed_at":  now,
			}); err != nil {
			return err
		}
		challenge.Status = models.ChallengeStatusCompleted
		challenge.WinnerID = outcome.WinnerID
		challenge.WinnerReason = outcome.Reason
		challenge.CompletedAt = &now

		for _, p := range participants {
			participantUserIDs = append(participantUserIDs, p.UserID)
			result := models.ParticipantResultNone
			isWinner := false
			if outcome.WinnerID != nil {
				if p.ID == *outcome.WinnerID {
					result = models.ParticipantResultWin
					isWinner = true
					winnerUserID = p.UserID
				} else {
					result = models.ParticipantResultLose
				}
			}
			if err := tx.Model(&models.Participant{}).
				Where("id = ?", p.ID).
				Updates(map[string]interface{}{
					"is_winner": isWinner,
					"result":    result,
				}).Error; err != nil {
				return apperrors.Wrap(apperrors.CodeUnknown, "failed to record participant result", err)
			}
		}

		return appendTimeline(tx, challengeID, models.EventWinnerDetermined,
			fmt.Sprintf("winner determined: %s", outcome.Reason), judgeID)
	})
	if err != nil {
		return nil, nil, err
	}

	award(s.Rewards, judgeID, DefaultPointWeights.VerdictDelivered, "verdict_delivered",
		map[string]interface{}{"challenge_id": challengeID})
	if winnerUserID != "" {
		award(s.Rewards, winnerUserID, DefaultPointWeights.ChallengeWon, "challenge_won",
			map[string]interface{}{"challenge_id": challengeID})
	}
	for _, userID := range participantUserIDs {
		notify(s.Notifier, userID, NotifyVerdictDelivered, map[string]interface{}{
			"challenge_id": challengeID,
			"winner_id":    challenge.WinnerID,
			"reason":       challenge.WinnerReason,
		})
	}

	return challenge, outcome, nil
}

// JudgeStatusView is the summary returned by GetChallengeJudgeStatus.
type JudgeStatusView struct {
	ChallengeID      string                 `json:"challenge_id"`
	Status           models.ChallengeStatus `json:"status"`
	JudgeID          *string                `json:"judge_id,omitempty"`
	RuleCount        int64                  `json:"rule_count"`
	ParticipantCount int64                  `json:"participant_count"`
	Evaluation       *EvaluationStatus      `json:"evaluation,omitempty"`
	WinnerID         *string                `json:"winner_id,omitempty"`
	WinnerReason     string                 `json:"winner_reason,omitempty"`
}

// GetChallengeJudgeStatus summarizes where a challenge sits in the judging
// pipeline. The evaluation report is included once the matrix exists.
func (s *JudgeService) GetChallengeJudgeStatus(challengeID string) (*JudgeStatusView, error) {
	var view *JudgeStatusView
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		challenge, err := loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}

		view = &JudgeStatusView{
			ChallengeID:  challenge.ID,
			Status:       challenge.Status,
			JudgeID:      challenge.JudgeID,
			WinnerID:     challenge.WinnerID,
			WinnerReason: challenge.WinnerReason,
		}

		if err := tx.Model(&models.Rule{}).
			Where("challenge_id = ?", challengeID).
			Count(&view.RuleCount).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to count rules", err)
		}
		if err := tx.Model(&models.Participant{}).
			Where("challenge_id = ? AND status = ?", challengeID, models.ParticipantStatusAccepted).
			Count(&view.ParticipantCount).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to count participants", err)
		}

		switch challenge.Status {
		case models.ChallengeStatusClosed, models.ChallengeStatusJudging, models.ChallengeStatusCompleted:
			view.Evaluation, err = completenessInTx(tx, challengeID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}
