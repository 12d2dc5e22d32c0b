package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"challenge-arbitration-service/handlers"
	"challenge-arbitration-service/middleware"
	"challenge-arbitration-service/models"
	"challenge-arbitration-service/services"
	"challenge-arbitration-service/utils"
	"challenge-arbitration-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 64 * 1024 * 1024, // 64MB, evidence uploads included
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Challenge{},
		&models.Participant{},
		&models.Rule{},
		&models.RuleEvaluation{},
		&models.TimelineEvent{},
		&models.ChallengeUser{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	userDirectory := services.NewGormUserDirectory(db)

	var notifier services.NotificationSink
	if base := os.Getenv("NOTIFICATION_SERVICE_URL"); base != "" {
		notifier = services.NewNotificationServiceClient(base, os.Getenv("NOTIFICATION_SERVICE_TOKEN"))
	} else {
		log.Println("⚠️  NOTIFICATION_SERVICE_URL not set, notifications disabled")
	}

	var rewards services.RewardLedger
	if base := os.Getenv("REWARD_SERVICE_URL"); base != "" {
		rewards = services.NewRewardServiceClient(base, os.Getenv("REWARD_SERVICE_TOKEN"))
	} else {
		log.Println("⚠️  REWARD_SERVICE_URL not set, reward awards disabled")
	}

	challengeService := services.NewChallengeService(db, userDirectory, notifier, rewards)
	evaluationService := services.NewEvaluationService(db)
	judgeService := services.NewJudgeService(db, evaluationService, notifier, rewards)

	syncServiceURL := os.Getenv("SYNC_SERVICE_URL")
	if syncServiceURL == "" {
		log.Fatal("SYNC_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("ARBITRATION_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("ARBITRATION_SERVICE_TOKEN environment variable not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncWorker := workers.NewChallengeUserSyncWorker(db, syncServiceURL, "/api/v1/public/profiles", serviceToken)
	syncWorker.Start(ctx)

	challengeService.StartExpiryScheduler()

	handlers.SetupChallengeRoutes(app, challengeService, evaluationService, judgeService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Challenge User Sync Worker running")
	log.Println("✅ Expiry scheduler running (every 1m)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
