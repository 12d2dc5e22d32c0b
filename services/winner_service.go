package services

import (
	"sort"

	"challenge-arbitration-service/apperrors"
	"challenge-arbitration-service/models"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// reasonPrinter renders the counts and percentages quoted in winner reasons.
// A fixed locale keeps the text byte-stable so outcomes stay auditable.
var reasonPrinter = message.NewPrinter(language.English)

// ParticipantStanding aggregates one participant's compliance over the
// matrix.
type ParticipantStanding struct {
	ParticipantID                 string  `json:"participant_id"`
	UserID                        string  `json:"user_id"`
	TotalRules                    int     `json:"total_rules"`
	MandatoryRules                int     `json:"mandatory_rules"`
	CompliantRules                int     `json:"compliant_rules"`
	MandatoryCompliant            int     `json:"mandatory_compliant"`
	CompliancePercentage          float64 `json:"compliance_percentage"`
	MandatoryCompliancePercentage float64 `json:"mandatory_compliance_percentage"`
}

// WinnerOutcome is the result of winner determination. WinnerID is nil on a
// tie (or when no participants exist); Reason explains, from the data alone,
// why the outcome holds.
type WinnerOutcome struct {
	WinnerID  *string               `json:"winner_id"`
	Tie       bool                  `json:"tie"`
	Reason    string                `json:"reason"`
	Standings []ParticipantStanding `json:"standings"`
}

// DetermineWinnerFromMatrix is the pure winner-determination engine. It
// ranks participants by, in order: mandatory compliance percentage,
// mandatory compliant count, overall compliance percentage, overall
// compliant count. The top two being equal on all four criteria is a tie.
// The function performs no I/O and never mutates its inputs; persisting the
// outcome is the orchestrator's job.
func DetermineWinnerFromMatrix(participants []models.Participant, rules []models.Rule, cells []models.RuleEvaluation) (*WinnerOutcome, error) {
	for _, cell := range cells {
		if cell.Pending() {
			return nil, apperrors.New(apperrors.CodeEvaluationIncomplete,
				"compliance matrix holds unevaluated cells").
				WithMeta("rule_id", cell.RuleID).
				WithMeta("participant_id", cell.ParticipantID)
		}
	}

	if len(participants) == 0 {
		return &WinnerOutcome{
			Reason:    "no participants to evaluate",
			Standings: []ParticipantStanding{},
		}, nil
	}

	mandatory := make(map[string]bool, len(rules))
	for _, rule := range rules {
		mandatory[rule.ID] = rule.IsMandatory
	}

	byParticipant := make(map[string]*ParticipantStanding, len(participants))
	standings := make([]ParticipantStanding, 0, len(participants))
	for _, p := range participants {
		byParticipant[p.ID] = &ParticipantStanding{ParticipantID: p.ID, UserID: p.UserID}
	}

	for _, cell := range cells {
		st, ok := byParticipant[cell.ParticipantID]
		if !ok {
			continue
		}
		st.TotalRules++
		compliant := cell.Verdict == models.VerdictCompliant
		if compliant {
			st.CompliantRules++
		}
		if mandatory[cell.RuleID] {
			st.MandatoryRules++
			if compliant {
				st.MandatoryCompliant++
			}
		}
	}

	for _, p := range participants {
		st := byParticipant[p.ID]
		if st.TotalRules > 0 {
			st.CompliancePercentage = float64(st.CompliantRules) / float64(st.TotalRules) * 100
		}
		if st.MandatoryRules > 0 {
			st.MandatoryCompliancePercentage = float64(st.MandatoryCompliant) / float64(st.MandatoryRules) * 100
		} else {
			// A participant with zero mandatory rules trivially satisfies
			// them all.
			st.MandatoryCompliancePercentage = 100
		}
		standings = append(standings, *st)
	}

	// Rank best-first. The participant-ID tiebreaker only fixes iteration
	// order; actual ties are detected below by comparing all four criteria.
	sort.SliceStable(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.MandatoryCompliancePercentage != b.MandatoryCompliancePercentage {
			return a.MandatoryCompliancePercentage > b.MandatoryCompliancePercentage
		}
		if a.MandatoryCompliant != b.MandatoryCompliant {
			return a.MandatoryCompliant > b.MandatoryCompliant
		}
		if a.CompliancePercentage != b.CompliancePercentage {
			return a.CompliancePercentage > b.CompliancePercentage
		}
		if a.CompliantRules != b.CompliantRules {
			return a.CompliantRules > b.CompliantRules
		}
		return a.ParticipantID < b.ParticipantID
	})

	if len(standings) == 1 {
		winner := standings[0]
		return &WinnerOutcome{
			WinnerID: &winner.ParticipantID,
			Reason: reasonPrinter.Sprintf("single participant: %s complied with %d of %d rules",
				winner.UserID, winner.CompliantRules, winner.TotalRules),
			Standings: standings,
		}, nil
	}

	top, runnerUp := standings[0], standings[1]

	switch {
	case top.MandatoryCompliancePercentage != runnerUp.MandatoryCompliancePercentage:
		return &WinnerOutcome{
			WinnerID: &top.ParticipantID,
			Reason: reasonPrinter.Sprintf("higher mandatory-rule compliance: %s at %.1f%% vs %s at %.1f%%",
				top.UserID, top.MandatoryCompliancePercentage,
				runnerUp.UserID, runnerUp.MandatoryCompliancePercentage),
			Standings: standings,
		}, nil
	case top.MandatoryCompliant != runnerUp.MandatoryCompliant:
		return &WinnerOutcome{
			WinnerID: &top.ParticipantID,
			Reason: reasonPrinter.Sprintf("more mandatory rules satisfied: %s with %d vs %s with %d",
				top.UserID, top.MandatoryCompliant,
				runnerUp.UserID, runnerUp.MandatoryCompliant),
			Standings: standings,
		}, nil
	case top.CompliancePercentage != runnerUp.CompliancePercentage:
		return &WinnerOutcome{
			WinnerID: &top.ParticipantID,
			Reason: reasonPrinter.Sprintf("higher overall compliance: %s at %.1f%% vs %s at %.1f%%",
				top.UserID, top.CompliancePercentage,
				runnerUp.UserID, runnerUp.CompliancePercentage),
			Standings: standings,
		}, nil
	case top.CompliantRules != runnerUp.CompliantRules:
		return &WinnerOutcome{
			WinnerID: &top.ParticipantID,
			Reason: reasonPrinter.Sprintf("more rules satisfied overall: %s with %d vs %s with %d",
				top.UserID, top.CompliantRules,
				runnerUp.UserID, runnerUp.CompliantRules),
			Standings: standings,
		}, nil
	}

	return &WinnerOutcome{
		Tie: true,
		Reason: reasonPrinter.Sprintf(
			"tie: %s and %s are equal on all criteria (mandatory %.1f%%, %d mandatory rules, overall %.1f%%, %d rules)",
			top.UserID, runnerUp.UserID,
			top.MandatoryCompliancePercentage, top.MandatoryCompliant,
			top.CompliancePercentage, top.CompliantRules),
		Standings: standings,
	}, nil
}
