package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"challenge-arbitration-service/middleware"
	"challenge-arbitration-service/models"
	"challenge-arbitration-service/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newEvidenceApp wires an app with a stubbed evidence store and one pending
// challenge created by "creator" with challenger "alice".
func newEvidenceApp(t *testing.T) (*fiber.App, *models.Challenge, *int) {
	t.Helper()
	dsn := "file:handlers_evidence_" + uuid.NewString() + "?mode=memory&cache=shared"
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
	for _, id := range []string{"creator", "alice"} {
		user := models.ChallengeUser{
			ID:             uuid.NewString(),
			ExternalUserID: id,
			Username:       id,
			AccountStatus:  "active",
		}
		if err := db.Create(&user).Error; err != nil {
			t.Fatalf("failed to seed user %s: %v", id, err)
		}
	}

	challenges := services.NewChallengeService(db, services.NewGormUserDirectory(db), nil, nil)
	challenge, err := challenges.CreateChallenge(services.CreateChallengeInput{
		Title:         "Evidence upload",
		CreatorID:     "creator",
		ChallengerIDs: []string{"alice"},
		StartDate:     time.Now().Add(time.Hour),
		Rules:         []services.RuleInput{{Description: "reach the summit", IsMandatory: true}},
	})
	if err != nil {
		t.Fatalf("failed to create challenge: %v", err)
	}

	uploads := 0
	h := &ChallengeHandler{
		Challenges: challenges,
		upload: func(ctx context.Context, fileHeader *multipart.FileHeader, key string) (string, error) {
			uploads++
			return "https://cdn.example.com/" + key, nil
		},
	}

	app := fiber.New()
	secured := app.Group("/", middleware.UserContextMiddleware())
	secured.Post("/challenges/:id/evidence", h.UploadEvidence)

	return app, challenge, &uploads
}

func evidenceRequest(t *testing.T, challengeID, userID string) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "summit.png")
	if err != nil {
		t.Fatalf("failed to build form file: %v", err)
	}
	if _, err := part.Write([]byte("png bytes")); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close form: %v", err)
	}

	req, err := http.NewRequest("POST", "/challenges/"+challengeID+"/evidence", body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-User-ID", userID)
	return req
}

func TestUploadEvidenceRejectsOutsiderBeforeStoring(t *testing.T) {
	app, challenge, uploads := newEvidenceApp(t)

	resp, err := app.Test(evidenceRequest(t, challenge.ID, "mallory"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if *uploads != 0 {
		t.Fatalf("rejected request must not reach the store, got %d uploads", *uploads)
	}
}

func TestUploadEvidenceStoresForParticipant(t *testing.T) {
	app, challenge, uploads := newEvidenceApp(t)

	resp, err := app.Test(evidenceRequest(t, challenge.ID, "alice"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if *uploads != 1 {
		t.Fatalf("expected exactly 1 upload, got %d", *uploads)
	}
}
