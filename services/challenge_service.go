package services

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"challenge-arbitration-service/apperrors"
	"challenge-arbitration-service/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ChallengeService owns the challenge lifecycle state machine. Every
// transition runs as a single transaction: read current state, validate
// actor and guards, write the new state, append the timeline record. A
// failed guard aborts the whole transaction with no partial writes.
type ChallengeService struct {
	DB       *gorm.DB
	Users    UserDirectory
	Notifier NotificationSink
	Rewards  RewardLedger
}

func NewChallengeService(db *gorm.DB, users UserDirectory, notifier NotificationSink, rewards RewardLedger) *ChallengeService {
	return &ChallengeService{DB: db, Users: users, Notifier: notifier, Rewards: rewards}
}

// loadChallenge fetches a challenge inside tx, mapping missing rows to the
// domain NotFound error.
func loadChallenge(tx *gorm.DB, challengeID string) (*models.Challenge, error) {
	var challenge models.Challenge
	if err := tx.First(&challenge, "id = ?", challengeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "challenge not found").
				WithMeta("challenge_id", challengeID)
		}
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch challenge", err)
	}
	return &challenge, nil
}

// transitionStatus applies a guarded status update. The WHERE clause
// re-checks the source status so a transition that lost a race against a
// concurrent writer updates zero rows and surfaces ConflictingState instead
// of committing against stale state.
func transitionStatus(tx *gorm.DB, challengeID string, from []models.ChallengeStatus, updates map[string]interface{}) error {
	res := tx.Model(&models.Challenge{}).
		Where("id = ? AND status IN ?", challengeID, from).
		Updates(updates)
	if res.Error != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "failed to update challenge status", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeConflictingState, "challenge was modified concurrently, retry").
			WithMeta("challenge_id", challengeID)
	}
	return nil
}

// serializationFailure reports a Postgres serialization conflict (SQLSTATE
// 40001) from a serializable transaction losing its race.
func serializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

// appendTimeline writes one audit event. It must be called inside the same
// transaction as the state change it records.
func appendTimeline(tx *gorm.DB, challengeID, eventType, description, actorID string) error {
	event := models.TimelineEvent{
		ID:          uuid.NewString(),
		ChallengeID: challengeID,
		EventType:   eventType,
		Description: description,
		ActorID:     actorID,
	}
	if err := tx.Create(&event).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "failed to append timeline event", err)
	}
	return nil
}

type RuleInput struct {
	Description string `json:"description"`
	OrderIndex  int    `json:"order_index"`
	IsMandatory bool   `json:"is_mandatory"`
}

type CreateChallengeInput struct {
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	CreatorID     string      `json:"-"`
	ChallengerIDs []string    `json:"challenger_ids"`
	StartDate     time.Time   `json:"start_date"`
	EndDate       time.Time   `json:"end_date"`
	EntryFee      float64     `json:"entry_fee"`
	Prize         string      `json:"prize"`
	Rules         []RuleInput `json:"rules"`
}

// CreateChallenge creates the challenge, its creator participant, the
// challenger roster (status pending) and the initial ordered rules in one
// transaction, then invites the challengers.
func (s *ChallengeService) CreateChallenge(in CreateChallengeInput) (*models.Challenge, error) {
	if in.Title == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "title is required")
	}
	if len(in.ChallengerIDs) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "at least one challenger is required")
	}
	if !in.EndDate.IsZero() && !in.EndDate.After(in.StartDate) {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "end_date must be after start_date")
	}
	if in.EntryFee < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "entry_fee must be non-negative")
	}

	seen := map[string]bool{in.CreatorID: true}
	for _, challengerID := range in.ChallengerIDs {
		if seen[challengerID] {
			return nil, apperrors.Newf(apperrors.CodeInvalidParticipant, "duplicate participant %s", challengerID)
		}
		seen[challengerID] = true
		exists, err := s.Users.Exists(challengerID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeUnknown, "user lookup failed", err)
		}
		if !exists {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "challenger %s not found", challengerID)
		}
	}

	for _, rule := range in.Rules {
		if rule.Description == "" {
			return nil, apperrors.New(apperrors.CodeInvalidArgument, "rule description is required")
		}
	}

	challenge := &models.Challenge{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Slug:        slug.Make(in.Title),
		Description: in.Description,
		Status:      models.ChallengeStatusPending,
		CreatorID:   in.CreatorID,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		EntryFee:    in.EntryFee,
		Prize:       in.Prize,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Participants", "Rules").Create(challenge).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to create challenge", err)
		}

		creator := models.Participant{
			ID:          uuid.NewString(),
			ChallengeID: challenge.ID,
			UserID:      in.CreatorID,
			Role:        models.ParticipantRoleCreator,
			Status:      models.ParticipantStatusAccepted,
			Result:      models.ParticipantResultNone,
		}
		if err := tx.Create(&creator).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to create creator participant", err)
		}
		challenge.Participants = append(challenge.Participants, creator)

		for _, challengerID := range in.ChallengerIDs {
			p := models.Participant{
				ID:          uuid.NewString(),
				ChallengeID: challenge.ID,
				UserID:      challengerID,
				Role:        models.ParticipantRoleChallenger,
				Status:      models.ParticipantStatusPending,
				Result:      models.ParticipantResultNone,
			}
			if err := tx.Create(&p).Error; err != nil {
				return apperrors.Wrap(apperrors.CodeUnknown, "failed to create challenger participant", err)
			}
			challenge.Participants = append(challenge.Participants, p)
		}

		for i, rule := range in.Rules {
			orderIndex := rule.OrderIndex
			if orderIndex == 0 {
				orderIndex = i + 1
			}
			r := models.Rule{
				ID:          uuid.NewString(),
				ChallengeID: challenge.ID,
				Description: rule.Description,
				OrderIndex:  orderIndex,
				IsMandatory: rule.IsMandatory,
			}
			if err := tx.Create(&r).Error; err != nil {
				return apperrors.Wrap(apperrors.CodeUnknown, "failed to create rule", err)
			}
			challenge.Rules = append(challenge.Rules, r)
		}

		return appendTimeline(tx, challenge.ID, models.EventChallengeCreated,
			fmt.Sprintf("challenge %q created with %d challenger(s) and %d rule(s)",
				challenge.Title, len(in.ChallengerIDs), len(in.Rules)),
			in.CreatorID)
	})
	if err != nil {
		return nil, err
	}

	for _, challengerID := range in.ChallengerIDs {
		notify(s.Notifier, challengerID, NotifyChallengeInvite, map[string]interface{}{
			"challenge_id": challenge.ID,
			"title":        challenge.Title,
			"entry_fee":    challenge.EntryFee,
		})
	}

	return challenge, nil
}

// AddRules appends rules to a challenge that has not yet entered the judging
// machinery. Creator only; rules are immutable once the challenge leaves
// pending/accepted.
func (s *ChallengeService) AddRules(challengeID, actingUserID string, rules []RuleInput) ([]models.Rule, error) {
	if len(rules) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "at least one rule is required")
	}
	for _, rule := range rules {
		if rule.Description == "" {
			return nil, apperrors.New(apperrors.CodeInvalidArgument, "rule description is required")
		}
	}

	var created []models.Rule
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		challenge, err := loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		if challenge.CreatorID != actingUserID {
			return apperrors.New(apperrors.CodeUnauthorized, "only the creator may add rules")
		}
		if challenge.Status != models.ChallengeStatusPending && challenge.Status != models.ChallengeStatusAccepted {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"rules cannot be added in status %s", challenge.Status)
		}

		var maxOrder int
		if err := tx.Model(&models.Rule{}).
			Where("challenge_id = ?", challengeID).
			Select("COALESCE(MAX(order_index), 0)").
			Scan(&maxOrder).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to read rule order", err)
		}

		for i, rule := range rules {
			orderIndex := rule.OrderIndex
			if orderIndex == 0 {
				orderIndex = maxOrder + i + 1
			}
			r := models.Rule{
				ID:          uuid.NewString(),
				ChallengeID: challengeID,
				Description: rule.Description,
				OrderIndex:  orderIndex,
				IsMandatory: rule.IsMandatory,
			}
			if err := tx.Create(&r).Error; err != nil {
				return apperrors.Wrap(apperrors.CodeUnknown, "failed to create rule", err)
			}
			created = append(created, r)
		}

		return appendTimeline(tx, challengeID, models.EventRulesAdded,
			fmt.Sprintf("%d rule(s) added", len(rules)), actingUserID)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AcceptChallenge records a challenger's acceptance. When the last pending
// challenger accepts (and the roster holds at least two participants) the
// challenge advances pending → accepted; the transition timeline entry is
// written exactly once, by the transaction whose guarded update succeeded.
//
// Unlike the other transitions, the decision here reads the rest of the
// roster, so the guarded single-row update alone cannot order concurrent
// accepts. The transaction runs serializable: under read committed two
// concurrent accepts would each see the other's row as still pending and
// neither would transition. The losing transaction surfaces as
// ConflictingState and the caller retries.
func (s *ChallengeService) AcceptChallenge(challengeID, actingUserID string) (*models.Challenge, error) {
	var challenge *models.Challenge
	var transitioned bool

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		challenge, err = loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		if challenge.Status != models.ChallengeStatusPending {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"challenge cannot be accepted in status %s", challenge.Status)
		}

		var participant models.Participant
		if err := tx.Where("challenge_id = ? AND user_id = ?", challengeID, actingUserID).
			First(&participant).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.New(apperrors.CodeUnauthorized, "acting user is not a participant of this challenge")
			}
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch participant", err)
		}
		if participant.Role == models.ParticipantRoleCreator {
			return apperrors.New(apperrors.CodeInvalidState, "the creator accepts implicitly at creation")
		}

		// Guarded update: a concurrent accept/reject for the same participant
		// flips the status first and this update matches zero rows.
		res := tx.Model(&models.Participant{}).
			Where("id = ? AND status = ?", participant.ID, models.ParticipantStatusPending).
			Update("status", models.ParticipantStatusAccepted)
		if res.Error != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to accept participation", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"participation already responded to (status %s)", participant.Status)
		}

		if err := appendTimeline(tx, challengeID, models.EventChallengeAccepted,
			fmt.Sprintf("participant %s accepted the challenge", actingUserID), actingUserID); err != nil {
			return err
		}

		var total, outstanding int64
		if err := tx.Model(&models.Participant{}).
			Where("challenge_id = ?", challengeID).
			Count(&total).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to count participants", err)
		}
		if err := tx.Model(&models.Participant{}).
			Where("challenge_id = ? AND role <> ? AND status <> ?",
				challengeID, models.ParticipantRoleCreator, models.ParticipantStatusAccepted).
			Count(&outstanding).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to count outstanding participants", err)
		}

		if outstanding == 0 && total >= 2 {
			if err := transitionStatus(tx, challengeID,
				[]models.ChallengeStatus{models.ChallengeStatusPending},
				map[string]interface{}{"status": models.ChallengeStatusAccepted}); err != nil {
				return err
			}
			transitioned = true
			challenge.Status = models.ChallengeStatusAccepted
			if err := appendTimeline(tx, challengeID, models.EventChallengeAccepted,
				"all challengers accepted, challenge is ready for a judge", actingUserID); err != nil {
				return err
			}
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		if serializationFailure(err) {
			return nil, apperrors.New(apperrors.CodeConflictingState, "challenge was modified concurrently, retry").
				WithMeta("challenge_id", challengeID)
		}
		return nil, err
	}

	award(s.Rewards, actingUserID, DefaultPointWeights.ChallengeAccepted, "challenge_accepted",
		map[string]interface{}{"challenge_id": challengeID})
	notify(s.Notifier, challenge.CreatorID, NotifyChallengeAccepted, map[string]interface{}{
		"challenge_id": challengeID,
		"user_id":      actingUserID,
		"all_accepted": transitioned,
	})

	return challenge, nil
}

// RejectChallenge records a challenger's rejection. A single participant
// rejecting cancels the whole challenge.
func (s *ChallengeService) RejectChallenge(challengeID, actingUserID string) (*models.Challenge, error) {
	var challenge *models.Challenge

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		challenge, err = loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		if challenge.Status != models.ChallengeStatusPending && challenge.Status != models.ChallengeStatusAccepted {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"challenge cannot be rejected in status %s", challenge.Status)
		}

		var participant models.Participant
		if err := tx.Where("challenge_id = ? AND user_id = ?", challengeID, actingUserID).
			First(&participant).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.New(apperrors.CodeUnauthorized, "acting user is not a participant of this challenge")
			}
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch participant", err)
		}
		if participant.Role == models.ParticipantRoleCreator {
			return apperrors.New(apperrors.CodeInvalidState, "the creator cancels rather than rejects")
		}

		res := tx.Model(&models.Participant{}).
			Where("id = ? AND status = ?", participant.ID, models.ParticipantStatusPending).
			Update("status", models.ParticipantStatusRejected)
		if res.Error != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to reject participation", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"participation already responded to (status %s)", participant.Status)
		}

		if err := transitionStatus(tx, challengeID,
			[]models.ChallengeStatus{models.ChallengeStatusPending, models.ChallengeStatusAccepted},
			map[string]interface{}{"status": models.ChallengeStatusCancelled}); err != nil {
			return err
		}
		challenge.Status = models.ChallengeStatusCancelled

		return appendTimeline(tx, challengeID, models.EventChallengeRejected,
			fmt.Sprintf("participant %s rejected the challenge, challenge cancelled", actingUserID),
			actingUserID)
	})
	if err != nil {
		return nil, err
	}

	notify(s.Notifier, challenge.CreatorID, NotifyChallengeRejected, map[string]interface{}{
		"challenge_id": challengeID,
		"user_id":      actingUserID,
	})

	return challenge, nil
}

// CancelChallenge cancels a challenge that has not yet started. Creator only;
// permitted from pending or accepted.
func (s *ChallengeService) CancelChallenge(challengeID, actingUserID string) (*models.Challenge, error) {
	var challenge *models.Challenge
	var notifyUserIDs []string

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		challenge, err = loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		if challenge.CreatorID != actingUserID {
			return apperrors.New(apperrors.CodeUnauthorized, "only the creator may cancel the challenge")
		}
		if challenge.Status != models.ChallengeStatusPending && challenge.Status != models.ChallengeStatusAccepted {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"challenge cannot be cancelled in status %s", challenge.Status)
		}

		if err := transitionStatus(tx, challengeID,
			[]models.ChallengeStatus{models.ChallengeStatusPending, models.ChallengeStatusAccepted},
			map[string]interface{}{"status": models.ChallengeStatusCancelled}); err != nil {
			return err
		}
		challenge.Status = models.ChallengeStatusCancelled

		var participants []models.Participant
		if err := tx.Where("challenge_id = ? AND role <> ?", challengeID, models.ParticipantRoleCreator).
			Find(&participants).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch participants", err)
		}
		for _, p := range participants {
			notifyUserIDs = append(notifyUserIDs, p.UserID)
		}

		if err := tx.Model(&models.Participant{}).
			Where("challenge_id = ? AND status = ?", challengeID, models.ParticipantStatusPending).
			Update("status", models.ParticipantStatusCancelled).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to cancel pending participations", err)
		}

		return appendTimeline(tx, challengeID, models.EventChallengeCancelled,
			"challenge cancelled by creator", actingUserID)
	})
	if err != nil {
		return nil, err
	}

	for _, userID := range notifyUserIDs {
		notify(s.Notifier, userID, NotifyChallengeCancelled, map[string]interface{}{
			"challenge_id": challengeID,
		})
	}

	return challenge, nil
}

// AssignJudge attaches a neutral judge to an accepted challenge. The judge
// must exist in the user directory and must not be a participant.
func (s *ChallengeService) AssignJudge(challengeID, actingUserID, judgeUserID string) (*models.Challenge, error) {
	exists, err := s.Users.Exists(judgeUserID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "user lookup failed", err)
	}
	if !exists {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "judge candidate %s not found", judgeUserID)
	}
	isParticipant, err := s.Users.IsParticipant(challengeID, judgeUserID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "participant lookup failed", err)
	}
	if isParticipant {
		return nil, apperrors.New(apperrors.CodeInvalidParticipant,
			"judge must be neutral: candidate is a participant of this challenge")
	}

	var challenge *models.Challenge
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		challenge, err = loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		if challenge.CreatorID != actingUserID {
			return apperrors.New(apperrors.CodeUnauthorized, "only the creator may assign a judge")
		}
		if challenge.Status != models.ChallengeStatusAccepted {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"judge cannot be assigned in status %s", challenge.Status)
		}

		// The judge_id IS NULL guard keeps the at-most-one-judge invariant
		// under concurrent assignment attempts.
		res := tx.Model(&models.Challenge{}).
			Where("id = ? AND status = ? AND judge_id IS NULL", challengeID, models.ChallengeStatusAccepted).
			Updates(map[string]interface{}{
				"judge_id": judgeUserID,
				"status":   models.ChallengeStatusJudgeAssigned,
			})
		if res.Error != nil {
			return apperrors.Wrap(apperrors.CodeUnknown, "failed to assign judge", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.New(apperrors.CodeConflictingState, "challenge was modified concurrently, retry")
		}
		challenge.Status = models.ChallengeStatusJudgeAssigned
		challenge.JudgeID = &judgeUserID

		return appendTimeline(tx, challengeID, models.EventJudgeAssigned,
			fmt.Sprintf("judge %s assigned", judgeUserID), actingUserID)
	})
	if err != nil {
		return nil, err
	}

	notify(s.Notifier, judgeUserID, NotifyJudgeInvite, map[string]interface{}{
		"challenge_id": challengeID,
		"title":        challenge.Title,
	})

	return challenge, nil
}

// AcceptJudgeAssignment moves judge_assigned → in_progress. Assigned judge only.
func (s *ChallengeService) AcceptJudgeAssignment(challengeID, actingUserID string) (*models.Challenge, error) {
	var challenge *models.Challenge

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		challenge, err = loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		if challenge.JudgeID == nil || *challenge.JudgeID != actingUserID {
			return apperrors.New(apperrors.CodeUnauthorized, "only the assigned judge may accept the assignment")
		}
		if challenge.Status != models.ChallengeStatusJudgeAssigned {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"judge assignment cannot be accepted in status %s", challenge.Status)
		}

		if err := transitionStatus(tx, challengeID,
			[]models.ChallengeStatus{models.ChallengeStatusJudgeAssigned},
			map[string]interface{}{"status": models.ChallengeStatusInProgress}); err != nil {
			return err
		}
		challenge.Status = models.ChallengeStatusInProgress

		return appendTimeline(tx, challengeID, models.EventJudgeAccepted,
			"judge accepted the assignment, challenge is in progress", actingUserID)
	})
	if err != nil {
		return nil, err
	}

	award(s.Rewards, actingUserID, DefaultPointWeights.JudgeAccepted, "judge_accepted",
		map[string]interface{}{"challenge_id": challengeID})
	notify(s.Notifier, challenge.CreatorID, NotifyJudgeAccepted, map[string]interface{}{
		"challenge_id": challengeID,
		"judge_id":     actingUserID,
	})

	return challenge, nil
}

// RejectJudgeAssignment is the single backwards transition of the lifecycle:
// judge_assigned → accepted with judge_id cleared, so the creator can pick
// someone else.
func (s *ChallengeService) RejectJudgeAssignment(challengeID, actingUserID string) (*models.Challenge, error) {
	var challenge *models.Challenge

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		challenge, err = loadChallenge(tx, challengeID)
		if err != nil {
			return err
		}
		if challenge.JudgeID == nil || *challenge.JudgeID != actingUserID {
			return apperrors.New(apperrors.CodeUnauthorized, "only the assigned judge may reject the assignment")
		}
		if challenge.Status != models.ChallengeStatusJudgeAssigned {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"judge assignment cannot be rejected in status %s", challenge.Status)
		}

		if err := transitionStatus(tx, challengeID,
			[]models.ChallengeStatus{models.ChallengeStatusJudgeAssigned},
			map[string]interface{}{
				"status":   models.ChallengeStatusAccepted,
				"judge_id": nil,
			}); err != nil {
			return err
		}
		challenge.Status = models.ChallengeStatusAccepted
		challenge.JudgeID = nil

		return appendTimeline(tx, challengeID, models.EventJudgeRejected,
			"judge rejected the assignment", actingUserID)
	})
	if err != nil {
		return nil, err
	}

	notify(s.Notifier, challenge.CreatorID, NotifyJudgeRejected, map[string]interface{}{
		"challenge_id": challengeID,
		"judge_id":     actingUserID,
	})

	return challenge, nil
}

// GetChallenge returns a challenge with its ordered rules and roster.
func (s *ChallengeService) GetChallenge(challengeID string) (*models.Challenge, error) {
	var challenge models.Challenge
	err := s.DB.
		Preload("Rules", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index ASC")
		}).
		Preload("Participants").
		First(&challenge, "id = ?", challengeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "challenge not found").
				WithMeta("challenge_id", challengeID)
		}
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch challenge", err)
	}
	return &challenge, nil
}

// GetChallengeTimeline returns the append-only audit trail, newest first.
func (s *ChallengeService) GetChallengeTimeline(challengeID string) ([]models.TimelineEvent, error) {
	if _, err := s.GetChallenge(challengeID); err != nil {
		return nil, err
	}
	var events []models.TimelineEvent
	if err := s.DB.Where("challenge_id = ?", challengeID).
		Order("created_at DESC").
		Find(&events).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "failed to fetch timeline", err)
	}
	return events, nil
}

// evidenceGuard validates that the acting user may attach evidence: the
// challenge is not terminal and the actor is a participant or the judge.
func evidenceGuard(tx *gorm.DB, challengeID, actingUserID string) error {
	challenge, err := loadChallenge(tx, challengeID)
	if err != nil {
		return err
	}
	if challenge.Status.Terminal() {
		return apperrors.Newf(apperrors.CodeInvalidState,
			"cannot attach evidence to a %s challenge", challenge.Status)
	}

	if challenge.JudgeID != nil && *challenge.JudgeID == actingUserID {
		return nil
	}
	var count int64
	if err := tx.Model(&models.Participant{}).
		Where("challenge_id = ? AND user_id = ?", challengeID, actingUserID).
		Count(&count).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "failed to check participant", err)
	}
	if count == 0 {
		return apperrors.New(apperrors.CodeUnauthorized,
			"only participants or the judge may attach evidence").
			WithMeta("user_id", actingUserID)
	}
	return nil
}

// CanAttachEvidence runs the evidence authorization without writing anything,
// so the transport layer can reject a request before the file is stored.
func (s *ChallengeService) CanAttachEvidence(challengeID, actingUserID string) error {
	return evidenceGuard(s.DB, challengeID, actingUserID)
}

// RecordEvidence appends an evidence-uploaded event after the file has been
// stored. The guard runs again inside the transaction; only participants or
// the judge of an active challenge may attach evidence.
func (s *ChallengeService) RecordEvidence(challengeID, actingUserID, evidenceURL, fileName string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := evidenceGuard(tx, challengeID, actingUserID); err != nil {
			return err
		}
		return appendTimeline(tx, challengeID, models.EventEvidenceUploaded,
			fmt.Sprintf("Evidence uploaded: %s (%s)", fileName, evidenceURL), actingUserID)
	})
}
