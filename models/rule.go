package models

import (
	"time"
)

// Rule is one requirement the participants must satisfy. Rules are immutable
// once the challenge leaves pending/accepted and are never deleted while a
// RuleEvaluation references them.
type Rule struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	ChallengeID string    `json:"challenge_id" gorm:"not null;index"`
	Description string    `json:"description" gorm:"type:text;not null"`
	OrderIndex  int       `json:"order_index" gorm:"column:order_index;default:0"`
	IsMandatory bool      `json:"is_mandatory" gorm:"default:false"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// ComplianceVerdict is the tri-state judge verdict for a single cell. It is
// modelled as an explicit enum rather than a nullable bool so "not yet
// evaluated" can never be confused with "non-compliant".
type ComplianceVerdict string

const (
	VerdictUnevaluated  ComplianceVerdict = "unevaluated"
	VerdictCompliant    ComplianceVerdict = "compliant"
	VerdictNonCompliant ComplianceVerdict = "non_compliant"
)

// Valid reports whether the verdict is one a judge may write. Unevaluated is
// the materialized default, not a writable verdict.
func (v ComplianceVerdict) Valid() bool {
	return v == VerdictCompliant || v == VerdictNonCompliant
}

// RuleEvaluation is one compliance-matrix cell: the judge's verdict for a
// specific (rule, participant) pair. The full cross-product of cells is
// created in bulk when the challenge closes; cells are mutated by evaluation
// calls and never deleted. The unique index guarantees one cell per pair.
type RuleEvaluation struct {
	ID            string            `json:"id" gorm:"primaryKey"`
	ChallengeID   string            `json:"challenge_id" gorm:"not null;index"`
	RuleID        string            `json:"rule_id" gorm:"not null;uniqueIndex:idx_evaluations_rule_participant"`
	ParticipantID string            `json:"participant_id" gorm:"not null;uniqueIndex:idx_evaluations_rule_participant"`
	JudgeID       string            `json:"judge_id" gorm:"not null"`
	Verdict       ComplianceVerdict `json:"verdict" gorm:"type:varchar(16);default:'unevaluated'"`
	JudgeComments string            `json:"judge_comments,omitempty" gorm:"type:text"`
	EvaluatedAt   *time.Time        `json:"evaluated_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

func (RuleEvaluation) TableName() string {
	return "rule_evaluations"
}

// Pending reports whether the cell still awaits a verdict.
func (e RuleEvaluation) Pending() bool {
	return e.Verdict == VerdictUnevaluated
}
