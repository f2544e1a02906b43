package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bounty-reward-system/chain"
	"bounty-reward-system/handlers"
	"bounty-reward-system/models"
	"bounty-reward-system/services"
	"bounty-reward-system/utils"
	"bounty-reward-system/workers"

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
		BodyLimit: 1 * 1024 * 1024, // webhook payloads are small
	})

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
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-GitHub-Event, X-Hub-Signature-256",
		ExposeHeaders:    "Content-Length, Content-Type",
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

	// TranslateError so the contributions.issue_id unique constraint
	// surfaces as gorm.ErrDuplicatedKey in the settlement commit path.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Issue{},
		&models.Contribution{},
		&models.ReconciliationEntry{},
		&models.TreasurySnapshot{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	treasuryKey := os.Getenv("TREASURY_PRIVATE_KEY")
	if treasuryKey == "" {
		log.Fatal("TREASURY_PRIVATE_KEY environment variable not set")
	}
	signer, err := chain.NewTreasurySigner(treasuryKey)
	if err != nil {
		log.Fatal("failed to load treasury signer:", err)
	}

	rpcURL := os.Getenv("SOLANA_RPC_URL")
	if rpcURL == "" {
		log.Println("⚠️  SOLANA_RPC_URL not set, defaulting to devnet")
		rpcURL = "https://api.devnet.solana.com"
	}
	gateway := chain.NewGateway(rpcURL, signer)

	limits := services.DefaultSecurityLimits()
	securityService := services.NewSecurityService(db, gateway, limits)
	settlementService := services.NewSettlementService(db, gateway, securityService)
	webhookService := services.NewWebhookService(settlementService)
	ledgerService := services.NewLedgerService(db)
	auditService := services.NewAuditService(db)

	profileServiceURL := os.Getenv("PROFILE_SERVICE_URL")
	if profileServiceURL == "" {
		log.Fatal("PROFILE_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("SERVICE_TOKEN environment variable not set")
	}

	syncWorker := workers.NewUserSyncWorker(db, profileServiceURL, "/api/v1/public/users", serviceToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Println("Starting User Sync Worker...")
		syncWorker.Start(ctx)
	}()

	pollInterval := 60 * time.Second
	if v := os.Getenv("TREASURY_POLL_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			pollInterval = time.Duration(secs) * time.Second
		} else {
			log.Printf("⚠️  Invalid TREASURY_POLL_INTERVAL %q, using default 60s", v)
		}
	}
	monitor := workers.NewTreasuryMonitor(db, gateway, limits.TreasuryFloorSOL, limits.TreasuryFloorEOS)
	go workers.PollTreasury(ctx, monitor, pollInterval)

	auditService.StartArchiveScheduler()

	handlers.SetupWebhookRoutes(app, webhookService)
	handlers.SetupLedgerRoutes(app, ledgerService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Printf("✅ Treasury wallet: %s", gateway.TreasuryAddress())
	log.Println("✅ User sync worker running")
	log.Printf("✅ Treasury polling running (every %s)", pollInterval)
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
