package services

import (
	"testing"

	"challenge-arbitration-service/apperrors"
	"challenge-arbitration-service/models"

	"gorm.io/gorm"
)

// closeTestChallenge drives a fresh challenge all the way to closed with a
// materialized matrix and returns the services plus the reloaded challenge.
func closeTestChallenge(t *testing.T, db *gorm.DB, challengerIDs ...string) (*ChallengeService, *EvaluationService, *JudgeService, *models.Challenge) {
	t.Helper()
	challenges := newTestChallengeService(t, db)
	evaluations := NewEvaluationService(db)
	judging := NewJudgeService(db, evaluations, nil, nil)

	challenge := createTestChallenge(t, challenges, "creator", challengerIDs...)
	advanceToInProgress(t, challenges, challenge, "judge", challengerIDs...)

	closed, err := judging.CloseChallenge(challenge.ID, "judge")
	if err != nil {
		t.Fatalf("failed to close challenge: %v", err)
	}
	return challenges, evaluations, judging, closed
}

func matrixCells(t *testing.T, db *gorm.DB, challengeID string) []models.RuleEvaluation {
	t.Helper()
	var cells []models.RuleEvaluation
	if err := db.Where("challenge_id = ?", challengeID).Find(&cells).Error; err != nil {
		t.Fatalf("failed to load cells: %v", err)
	}
	return cells
}

func TestCloseChallengeMaterializesFullMatrix(t *testing.T) {
	db := newTestDB(t)
	_, _, _, challenge := closeTestChallenge(t, db, "alice", "bob")

	// 3 rules × 3 accepted participants (creator included).
	cells := matrixCells(t, db, challenge.ID)
	if len(cells) != 9 {
		t.Fatalf("expected 9 cells, got %d", len(cells))
	}
	for _, cell := range cells {
		if !cell.Pending() {
			t.Fatalf("materialized cells must start unevaluated, got %s", cell.Verdict)
		}
		if cell.JudgeID != "judge" {
			t.Fatalf("cells must carry the assigned judge, got %s", cell.JudgeID)
		}
	}
}

func TestMaterializeMatrixIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	_, evaluations, _, challenge := closeTestChallenge(t, db, "alice")

	before := len(matrixCells(t, db, challenge.ID))
	err := db.Transaction(func(tx *gorm.DB) error {
		return evaluations.MaterializeMatrix(tx, challenge)
	})
	if err != nil {
		t.Fatalf("second materialization failed: %v", err)
	}
	after := len(matrixCells(t, db, challenge.ID))
	if before != after {
		t.Fatalf("re-materialization must not duplicate cells: %d -> %d", before, after)
	}
}

func TestEvaluateRuleRequiresClosedOrJudging(t *testing.T) {
	db := newTestDB(t)
	challenges := newTestChallengeService(t, db)
	evaluations := NewEvaluationService(db)

	challenge := createTestChallenge(t, challenges, "creator", "alice")
	advanceToInProgress(t, challenges, challenge, "judge", "alice")

	_, err := evaluations.EvaluateRule(challenge.ID, "judge", RuleEvaluationInput{
		RuleID:        challenge.Rules[0].ID,
		ParticipantID: challenge.Participants[0].ID,
		Verdict:       models.VerdictCompliant,
	})
	if !apperrors.IsCode(err, apperrors.CodeInvalidState) {
		t.Fatalf("expected INVALID_STATE evaluating while in progress, got %v", err)
	}
}

func TestEvaluateRuleWrongJudge(t *testing.T) {
	db := newTestDB(t)
	_, evaluations, _, challenge := closeTestChallenge(t, db, "alice")
	cells := matrixCells(t, db, challenge.ID)

	_, err := evaluations.EvaluateRule(challenge.ID, "alice", RuleEvaluationInput{
		RuleID:        cells[0].RuleID,
		ParticipantID: cells[0].ParticipantID,
		Verdict:       models.VerdictCompliant,
	})
	if !apperrors.IsCode(err, apperrors.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED for non-judge, got %v", err)
	}
}

func TestEvaluateRuleRejectsInvalidVerdict(t *testing.T) {
	db := newTestDB(t)
	_, evaluations, _, challenge := closeTestChallenge(t, db, "alice")
	cells := matrixCells(t, db, challenge.ID)

	_, err := evaluations.EvaluateRule(challenge.ID, "judge", RuleEvaluationInput{
		RuleID:        cells[0].RuleID,
		ParticipantID: cells[0].ParticipantID,
		Verdict:       models.VerdictUnevaluated,
	})
	if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT for unevaluated verdict, got %v", err)
	}
}

func TestEvaluateRuleWritesVerdict(t *testing.T) {
	db := newTestDB(t)
	_, evaluations, _, challenge := closeTestChallenge(t, db, "alice")
	cells := matrixCells(t, db, challenge.ID)

	cell, err := evaluations.EvaluateRule(challenge.ID, "judge", RuleEvaluationInput{
		RuleID:        cells[0].RuleID,
		ParticipantID: cells[0].ParticipantID,
		Verdict:       models.VerdictNonCompliant,
		JudgeComments: "skipped the checkpoint",
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if cell.Verdict != models.VerdictNonCompliant {
		t.Fatalf("expected non_compliant, got %s", cell.Verdict)
	}
	if cell.EvaluatedAt == nil {
		t.Fatal("evaluated_at must be set")
	}
	if cell.JudgeComments != "skipped the checkpoint" {
		t.Fatalf("comments not persisted: %q", cell.JudgeComments)
	}

	// A re-evaluation overwrites the verdict in place.
	updated, err := evaluations.EvaluateRule(challenge.ID, "judge", RuleEvaluationInput{
		RuleID:        cells[0].RuleID,
		ParticipantID: cells[0].ParticipantID,
		Verdict:       models.VerdictCompliant,
	})
	if err != nil {
		t.Fatalf("re-evaluation failed: %v", err)
	}
	if updated.ID != cell.ID || updated.Verdict != models.VerdictCompliant {
		t.Fatalf("re-evaluation must overwrite the same cell, got id=%s verdict=%s", updated.ID, updated.Verdict)
	}
}

func TestEvaluateRulesBatchIsAtomic(t *testing.T) {
	db := newTestDB(t)
	_, evaluations, _, challenge := closeTestChallenge(t, db, "alice")
	cells := matrixCells(t, db, challenge.ID)

	_, err := evaluations.EvaluateRulesBatch(challenge.ID, "judge", []RuleEvaluationInput{
		{RuleID: cells[0].RuleID, ParticipantID: cells[0].ParticipantID, Verdict: models.VerdictCompliant},
		{RuleID: "missing-rule", ParticipantID: cells[1].ParticipantID, Verdict: models.VerdictCompliant},
	})
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND for missing cell, got %v", err)
	}

	// The valid first entry must have been rolled back with the batch.
	status, err := evaluations.Completeness(challenge.ID)
	if err != nil {
		t.Fatalf("completeness failed: %v", err)
	}
	if status.EvaluatedCells != 0 {
		t.Fatalf("failed batch must roll back entirely, got %d evaluated cells", status.EvaluatedCells)
	}
}

func TestCompletenessTracksPendingCells(t *testing.T) {
	db := newTestDB(t)
	_, evaluations, _, challenge := closeTestChallenge(t, db, "alice")
	cells := matrixCells(t, db, challenge.ID)

	status, err := evaluations.Completeness(challenge.ID)
	if err != nil {
		t.Fatalf("completeness failed: %v", err)
	}
	if status.TotalCells != len(cells) || status.EvaluatedCells != 0 {
		t.Fatalf("fresh matrix: total=%d evaluated=%d", status.TotalCells, status.EvaluatedCells)
	}
	if status.Complete() {
		t.Fatal("fresh matrix must not be complete")
	}
	for _, pending := range status.PendingCells {
		if pending.RuleDescription == "" || pending.ParticipantUserID == "" {
			t.Fatalf("pending cells must carry context, got %+v", pending)
		}
	}

	for _, cell := range cells {
		if _, err := evaluations.EvaluateRule(challenge.ID, "judge", RuleEvaluationInput{
			RuleID:        cell.RuleID,
			ParticipantID: cell.ParticipantID,
			Verdict:       models.VerdictCompliant,
		}); err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
	}

	status, err = evaluations.Completeness(challenge.ID)
	if err != nil {
		t.Fatalf("completeness failed: %v", err)
	}
	if !status.Complete() {
		t.Fatalf("fully evaluated matrix must be complete: %+v", status)
	}
	if status.EvaluatedCells != len(cells) {
		t.Fatalf("expected %d evaluated cells, got %d", len(cells), status.EvaluatedCells)
	}
}
