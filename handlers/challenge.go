// handlers/challenge.go
package handlers

import (
	"context"
	"fmt"
	"log"
	"mime/multipart"

	"challenge-arbitration-service/apperrors"
	"challenge-arbitration-service/middleware"
	"challenge-arbitration-service/services"
	"challenge-arbitration-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ChallengeHandler adapts the arbitration services to HTTP. All identity
// comes from the gateway headers via UserContextMiddleware; handlers never
// trust a user id from the request body.
type ChallengeHandler struct {
	Challenges  *services.ChallengeService
	Evaluations *services.EvaluationService
	Judging     *services.JudgeService

	// upload stores one evidence file and returns its public URL.
	upload func(ctx context.Context, fileHeader *multipart.FileHeader, key string) (string, error)
}

func SetupChallengeRoutes(app *fiber.App, challenges *services.ChallengeService, evaluations *services.EvaluationService, judging *services.JudgeService) {
	h := &ChallengeHandler{
		Challenges:  challenges,
		Evaluations: evaluations,
		Judging:     judging,
		upload:      utils.UploadEvidenceToR2,
	}

	// 🔓 Public read routes
	app.Get("/challenges/:id", h.GetChallenge)
	app.Get("/challenges/:id/timeline", h.GetTimeline)

	// 🔐 Authenticated routes
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/challenges", h.CreateChallenge)
	secured.Post("/challenges/:id/rules", h.AddRules)

	// Participant lifecycle
	secured.Post("/challenges/:id/accept", h.AcceptChallenge)
	secured.Post("/challenges/:id/reject", h.RejectChallenge)
	secured.Post("/challenges/:id/cancel", h.CancelChallenge)

	// Judge lifecycle
	secured.Post("/challenges/:id/judge", h.AssignJudge)
	secured.Post("/challenges/:id/judge/accept", h.AcceptJudgeAssignment)
	secured.Post("/challenges/:id/judge/reject", h.RejectJudgeAssignment)
	secured.Get("/challenges/:id/judge/status", h.GetJudgeStatus)

	// Judging pipeline
	secured.Post("/challenges/:id/close", h.CloseChallenge)
	secured.Post("/challenges/:id/evaluations", h.EvaluateRule)
	secured.Post("/challenges/:id/evaluations/batch", h.EvaluateRulesBatch)
	secured.Get("/challenges/:id/evaluations/status", h.GetEvaluationStatus)
	secured.Get("/challenges/:id/winner/eligibility", h.GetWinnerEligibility)
	secured.Post("/challenges/:id/winner", h.DetermineWinner)

	// Evidence
	secured.Post("/challenges/:id/evidence", h.UploadEvidence)
}

func actingUserID(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return id
	}
	return ""
}

// respondError maps the service error taxonomy onto HTTP. Unknown errors are
// logged with the route so they can be traced, but the client only sees a
// generic message.
func respondError(c *fiber.Ctx, err error) error {
	status := apperrors.HTTPStatus(err)

	var appErr *apperrors.Error
	if apperrors.AsError(err, &appErr) {
		body := fiber.Map{
			"code":  appErr.Code,
			"error": appErr.Message,
		}
		if len(appErr.Metadata) > 0 {
			body["metadata"] = appErr.Metadata
		}
		if appErr.Details != nil {
			body["details"] = appErr.Details
		}
		if status >= fiber.StatusInternalServerError {
			log.Printf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
			body["error"] = "internal error"
		}
		return c.Status(status).JSON(body)
	}

	log.Printf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"code":  apperrors.CodeUnknown,
		"error": "internal error",
	})
}

func (h *ChallengeHandler) CreateChallenge(c *fiber.Ctx) error {
	var in services.CreateChallengeInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	in.CreatorID = actingUserID(c)

	challenge, err := h.Challenges.CreateChallenge(in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(challenge)
}

func (h *ChallengeHandler) GetChallenge(c *fiber.Ctx) error {
	challenge, err := h.Challenges.GetChallenge(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(challenge)
}

func (h *ChallengeHandler) GetTimeline(c *fiber.Ctx) error {
	events, err := h.Challenges.GetChallengeTimeline(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *ChallengeHandler) AddRules(c *fiber.Ctx) error {
	var body struct {
		Rules []services.RuleInput `json:"rules"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	rules, err := h.Challenges.AddRules(c.Params("id"), actingUserID(c), body.Rules)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"rules": rules})
}

func (h *ChallengeHandler) AcceptChallenge(c *fiber.Ctx) error {
	challenge, err := h.Challenges.AcceptChallenge(c.Params("id"), actingUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(challenge)
}

func (h *ChallengeHandler) RejectChallenge(c *fiber.Ctx) error {
	challenge, err := h.Challenges.RejectChallenge(c.Params("id"), actingUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(challenge)
}

func (h *ChallengeHandler) CancelChallenge(c *fiber.Ctx) error {
	challenge, err := h.Challenges.CancelChallenge(c.Params("id"), actingUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(challenge)
}

func (h *ChallengeHandler) AssignJudge(c *fiber.Ctx) error {
	var body struct {
		JudgeUserID string `json:"judge_user_id"`
	}
	if err := c.BodyParser(&body); err != nil || body.JudgeUserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "judge_user_id is required"})
	}

	challenge, err := h.Challenges.AssignJudge(c.Params("id"), actingUserID(c), body.JudgeUserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(challenge)
}

func (h *ChallengeHandler) AcceptJudgeAssignment(c *fiber.Ctx) error {
	challenge, err := h.Challenges.AcceptJudgeAssignment(c.Params("id"), actingUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(challenge)
}

func (h *ChallengeHandler) RejectJudgeAssignment(c *fiber.Ctx) error {
	challenge, err := h.Challenges.RejectJudgeAssignment(c.Params("id"), actingUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(challenge)
}

func (h *ChallengeHandler) CloseChallenge(c *fiber.Ctx) error {
	challenge, err := h.Judging.CloseChallenge(c.Params("id"), actingUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(challenge)
}

func (h *ChallengeHandler) EvaluateRule(c *fiber.Ctx) error {
	var in services.RuleEvaluationInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	cell, err := h.Evaluations.EvaluateRule(c.Params("id"), actingUserID(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(cell)
}

func (h *ChallengeHandler) EvaluateRulesBatch(c *fiber.Ctx) error {
	var body struct {
		Evaluations []services.RuleEvaluationInput `json:"evaluations"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	cells, err := h.Evaluations.EvaluateRulesBatch(c.Params("id"), actingUserID(c), body.Evaluations)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"evaluations": cells})
}

func (h *ChallengeHandler) GetEvaluationStatus(c *fiber.Ctx) error {
	status, err := h.Evaluations.Completeness(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(status)
}

func (h *ChallengeHandler) GetWinnerEligibility(c *fiber.Ctx) error {
	eligible, status, err := h.Judging.CanDetermineWinner(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"eligible":   eligible,
		"evaluation": status,
	})
}

func (h *ChallengeHandler) DetermineWinner(c *fiber.Ctx) error {
	challenge, outcome, err := h.Judging.DetermineWinner(c.Params("id"), actingUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"challenge": challenge,
		"outcome":   outcome,
	})
}

func (h *ChallengeHandler) GetJudgeStatus(c *fiber.Ctx) error {
	view, err := h.Judging.GetChallengeJudgeStatus(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(view)
}

func (h *ChallengeHandler) UploadEvidence(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}

	challengeID := c.Params("id")
	userID := actingUserID(c)

	// Authorize before touching the bucket: a rejected request must leave
	// no stored object behind.
	if err := h.Challenges.CanAttachEvidence(challengeID, userID); err != nil {
		return respondError(c, err)
	}

	key := fmt.Sprintf("evidence/%s/%s-%s", challengeID, uuid.New().String(), fileHeader.Filename)
	url, err := h.upload(c.UserContext(), fileHeader, key)
	if err != nil {
		log.Printf("[EVIDENCE] upload failed for challenge %s: %v", challengeID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store evidence"})
	}

	if err := h.Challenges.RecordEvidence(challengeID, userID, url, fileHeader.Filename); err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"url":       url,
		"file_name": fileHeader.Filename,
	})
}
