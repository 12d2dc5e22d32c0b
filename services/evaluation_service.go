package services

import (
	"errors"
	"time"

	"challenge-arbitration-service/apperrors"
	"challenge-arbitration-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EvaluationService owns the rule × participant compliance matrix: bulk
// materialization at close time, judge verdict writes, and the completeness
// report the orchestrator gates winner determination on.
type EvaluationService struct {
	DB *gorm.DB
}

func NewEvaluationService(db *gorm.DB) *EvaluationService {
	return &EvaluationService{DB: db}
}

// PendingCell identifies one still-unevaluated (rule, participant) pair,
// with enough context for the judge UI to highlight remaining work.
type PendingCell struct {
	RuleID            string `json:"rule_id"`
	RuleDescription   string `json:"rule_description"`
	ParticipantID     string `json:"participant_id"`
	ParticipantUserID string `json:"participant_user_id"`
}

// EvaluationStatus is the completeness report for a challenge's matrix.
type EvaluationStatus struct {
	ChallengeID    string        `json:"challenge_id"`
	TotalCells     int           `json:"total_cells"`
	EvaluatedCells int           `json:"evaluated_cells"`
	PendingCells   []PendingCell `json:"pending_cells"`
}

// Complete reports whether every cell holds a verdict.
func (st *EvaluationStatus) Complete() bool {
	return st.TotalCells > 0 && len(st.PendingCells) == 0
}

// MaterializeMatrix creates one unevaluated cell per (rule, accepted
// participant) pair. It runs inside the close transaction and is idempotent:
// the (rule_id, participant_id) unique index plus ON CONFLICT DO NOTHING
// means a retry never duplicates cells.
func (s *EvaluationService) MaterializeMatrix(tx *gorm.DB, challenge *models.Challenge) error {
	if challenge.JudgeID == nil {
		return apperrors.New(apperrors.CodeInvalidState, "challenge has no judge, matrix cannot be materialized")
	}

	var rules []models.Rule
	if err := tx.Where("challenge_id = ?", challenge.ID).
		Order("order_index ASC").
		Find(&rules).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch rules", err)
	}

	var participants []models.Participant
	if err := tx.Where("challenge_id = ? AND status = ?", challenge.ID, models.ParticipantStatusAccepted).
		Find(&participants).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch participants", err)
	}

	if len(rules) == 0 || len(participants) == 0 {
		return apperrors.New(apperrors.CodeInvalidState,
			"matrix requires at least one rule and one accepted participant")
	}

	cells := make([]models.RuleEvaluation, 0, len(rules)*len(participants))
	for _, rule := range rules {
		for _, participant := range participants {
			cells = append(cells, models.RuleEvaluation{
				ID:            uuid.NewString(),
				ChallengeID:   challenge.ID,
				RuleID:        rule.ID,
				ParticipantID: participant.ID,
				JudgeID:       *challenge.JudgeID,
				Verdict:       models.VerdictUnevaluated,
			})
		}
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rule_id"}, {Name: "participant_id"}},
		DoNothing: true,
	}).CreateInBatches(cells, 200).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "failed to materialize compliance matrix", err)
	}
	return nil
}

type RuleEvaluationInput struct {
	RuleID        string                   `json:"rule_id"`
	ParticipantID string                   `json:"participant_id"`
	Verdict       models.ComplianceVerdict `json:"verdict"`
	JudgeComments string                   `json:"judge_comments"`
}

// EvaluateRule writes a single compliance cell. Only the challenge's current
// judge may write, and only while the challenge is closed or judging.
func (s *EvaluationService) EvaluateRule(challengeID, judgeID string, in RuleEvaluationInput) (*models.RuleEvaluation, error) {
	var cell *models.RuleEvaluation
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		challenge, err := loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		cell, err = evaluateCellInTx(tx, challenge, judgeID, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cell, nil
}

// EvaluateRulesBatch applies multiple verdicts atomically: a single failing
// cell rolls back the entire batch.
func (s *EvaluationService) EvaluateRulesBatch(challengeID, judgeID string, evals []RuleEvaluationInput) ([]models.RuleEvaluation, error) {
	if len(evals) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "at least one evaluation is required")
	}

	var cells []models.RuleEvaluation
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		challenge, err := loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		for _, in := range evals {
			cell, err := evaluateCellInTx(tx, challenge, judgeID, in)
			if err != nil {
				return err
			}
			cells = append(cells, *cell)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cells, nil
}

// evaluateCellInTx validates judge identity and challenge state, then writes
// one verdict. Shared by the single and batch paths.
func evaluateCellInTx(tx *gorm.DB, challenge *models.Challenge, judgeID string, in RuleEvaluationInput) (*models.RuleEvaluation, error) {
	if challenge.JudgeID == nil || *challenge.JudgeID != judgeID {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "only the challenge's current judge may evaluate rules")
	}
	if challenge.Status != models.ChallengeStatusClosed && challenge.Status != models.ChallengeStatusJudging {
		return nil, apperrors.Newf(apperrors.CodeInvalidState,
			"rules cannot be evaluated in status %s", challenge.Status)
	}
	if !in.Verdict.Valid() {
		return nil, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid verdict %q", in.Verdict)
	}

	var cell models.RuleEvaluation
	if err := tx.Where("rule_id = ? AND participant_id = ?", in.RuleID, in.ParticipantID).
		First(&cell).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "compliance cell not found").
				WithMeta("rule_id", in.RuleID).
				WithMeta("participant_id", in.ParticipantID)
		}
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch compliance cell", err)
	}
	if cell.ChallengeID != challenge.ID {
		return nil, apperrors.New(apperrors.CodeNotFound, "compliance cell does not belong to this challenge")
	}

	now := time.Now()
	cell.JudgeID = judgeID
	cell.Verdict = in.Verdict
	cell.JudgeComments = in.JudgeComments
	cell.EvaluatedAt = &now
	if err := tx.Save(&cell).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "failed to save evaluation", err)
	}
	return &cell, nil
}

// Completeness reports how much of the matrix has been evaluated and lists
// the still-pending cells.
func (s *EvaluationService) Completeness(challengeID string) (*EvaluationStatus, error) {
	var status *EvaluationStatus
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if _, err := loadChallenge(tx, challengeID); err != nil {
			return err
		}
		var err error
		status, err = completenessInTx(tx, challengeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func completenessInTx(tx *gorm.DB, challengeID string) (*EvaluationStatus, error) {
	var cells []models.RuleEvaluation
	if err := tx.Where("challenge_id = ?", challengeID).Find(&cells).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch compliance cells", err)
	}

	status := &EvaluationStatus{
		ChallengeID:  challengeID,
		TotalCells:   len(cells),
		PendingCells: []PendingCell{},
	}
	if len(cells) == 0 {
		return status, nil
	}

	ruleDescriptions := make(map[string]string)
	var rules []models.Rule
	if err := tx.Where("challenge_id = ?", challengeID).Find(&rules).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch rules", err)
	}
	for _, rule := range rules {
		ruleDescriptions[rule.ID] = rule.Description
	}

	participantUsers := make(map[string]string)
	var participants []models.Participant
	if err := tx.Where("challenge_id = ?", challengeID).Find(&participants).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch participants", err)
	}
	for _, participant := range participants {
		participantUsers[participant.ID] = participant.UserID
	}

	for _, cell := range cells {
		if cell.Pending() {
			status.PendingCells = append(status.PendingCells, PendingCell{
				RuleID:            cell.RuleID,
				RuleDescription:   ruleDescriptions[cell.RuleID],
				ParticipantID:     cell.ParticipantID,
				ParticipantUserID: participantUsers[cell.ParticipantID],
			})
		} else {
			status.EvaluatedCells++
		}
	}
	return status, nil
}
