package models

import (
	"time"
)

// ChallengeStatus is the lifecycle state of a challenge. Transitions are
// owned by the services layer; rows never move backwards except for the
// single judge-rejection rollback (judge_assigned → accepted).
type ChallengeStatus string

const (
	ChallengeStatusPending       ChallengeStatus = "pending"
	ChallengeStatusAccepted      ChallengeStatus = "accepted"
	ChallengeStatusJudgeAssigned ChallengeStatus = "judge_assigned"
	ChallengeStatusInProgress    ChallengeStatus = "in_progress"
	ChallengeStatusClosed        ChallengeStatus = "closed"
	ChallengeStatusJudging       ChallengeStatus = "judging"
	ChallengeStatusCompleted     ChallengeStatus = "completed"
	ChallengeStatusCancelled     ChallengeStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s ChallengeStatus) Terminal() bool {
	return s == ChallengeStatusCompleted || s == ChallengeStatusCancelled
}

// Challenge represents one arbitration instance: a staked contest between
// participants, refereed by a neutral judge.
type Challenge struct {
	ID          string          `json:"id" gorm:"primaryKey"`
	Title       string          `json:"title" gorm:"not null"`
	Slug        string          `json:"slug" gorm:"index"`
	Description string          `json:"description" gorm:"type:text"`
	Status      ChallengeStatus `json:"status" gorm:"type:varchar(16);default:'pending';index"`
	CreatorID   string          `json:"creator_id" gorm:"not null;index"`
	JudgeID     *string         `json:"judge_id,omitempty" gorm:"index"`
	StartDate   time.Time       `json:"start_date" gorm:"not null"`
	EndDate     time.Time       `json:"end_date"`
	EntryFee    float64         `json:"entry_fee" gorm:"default:0"`
	Prize       string          `json:"prize"`

	// Verdict fields, written once by winner determination. WinnerID
	// references a Participant of this challenge; nil after a tie.
	WinnerID     *string `json:"winner_id,omitempty"`
	WinnerReason string  `json:"winner_reason,omitempty" gorm:"type:text"`

	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	JudgingStartedAt *time.Time `json:"judging_started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Participants []Participant `json:"participants,omitempty" gorm:"foreignKey:ChallengeID"`
	Rules        []Rule        `json:"rules,omitempty" gorm:"foreignKey:ChallengeID"`
}

type ParticipantRole string

const (
	ParticipantRoleCreator    ParticipantRole = "creator"
	ParticipantRoleChallenger ParticipantRole = "challenger"
)

type ParticipantStatus string

const (
	ParticipantStatusPending   ParticipantStatus = "pending"
	ParticipantStatusAccepted  ParticipantStatus = "accepted"
	ParticipantStatusRejected  ParticipantStatus = "rejected"
	ParticipantStatusCancelled ParticipantStatus = "cancelled"
)

type ParticipantResult string

const (
	ParticipantResultNone ParticipantResult = "none"
	ParticipantResultWin  ParticipantResult = "win"
	ParticipantResultLose ParticipantResult = "lose"
)

// Participant binds a user to a challenge. Exactly one creator participant
// exists per challenge; the match proceeds only once every challenger
// reaches accepted.
type Participant struct {
	ID          string            `json:"id" gorm:"primaryKey"`
	ChallengeID string            `json:"challenge_id" gorm:"not null;uniqueIndex:idx_participants_challenge_user"`
	UserID      string            `json:"user_id" gorm:"not null;uniqueIndex:idx_participants_challenge_user;index"`
	Role        ParticipantRole   `json:"role" gorm:"type:varchar(16);not null"`
	Status      ParticipantStatus `json:"status" gorm:"type:varchar(16);default:'pending'"`
	IsWinner    bool              `json:"is_winner" gorm:"default:false"`
	Result      ParticipantResult `json:"result" gorm:"type:varchar(8);default:'none'"`
	CreatedAt   time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// TimelineEvent is one append-only audit record. Rows are written inside the
// same transaction as the state change they record and are never mutated.
type TimelineEvent struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	ChallengeID string    `json:"challenge_id" gorm:"not null;index"`
	EventType   string    `json:"event_type" gorm:"type:varchar(32);not null"`
	Description string    `json:"description" gorm:"type:text"`
	ActorID     string    `json:"actor_id"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Timeline event types.
const (
	EventChallengeCreated   = "challenge_created"
	EventRulesAdded         = "rules_added"
	EventChallengeAccepted  = "challenge_accepted"
	EventChallengeRejected  = "challenge_rejected"
	EventChallengeCancelled = "challenge_cancelled"
	EventChallengeExpired   = "challenge_expired"
	EventJudgeAssigned      = "judge_assigned"
	EventJudgeAccepted      = "judge_accepted"
	EventJudgeRejected      = "judge_rejected"
	EventChallengeClosed    = "challenge_closed"
	EventJudgingStarted     = "judging_started"
	EventWinnerDetermined   = "winner_determined"
	EventEvidenceUploaded   = "evidence_uploaded"
)
