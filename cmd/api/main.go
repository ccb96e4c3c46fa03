package main

import (
	"context"
	"log"
	"net/smtp"
	"os"

	_ "ringi/api/swagger" // swagger docs
	"ringi/internal/database"
	"ringi/internal/handler"
	"ringi/internal/mailer"
	"ringi/internal/middleware"
	"ringi/internal/model"
	"ringi/internal/repository"
	"ringi/internal/service"
	"ringi/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Ringi Approval Workflow API
// @version         1.0
// @description     Multi-step approval workflow engine with ordered approver chains.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	dbSslMode := os.Getenv("DB_SSLMODE")

	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPort == "" {
		dbPort = "5432"
	}
	if dbUser == "" {
		dbUser = "postgres"
	}
	if dbPassword == "" {
		dbPassword = "postgres"
	}
	if dbName == "" {
		dbName = "postgres"
	}
	if dbSslMode == "" {
		dbSslMode = "disable"
	}

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Connected to PostgreSQL successfully.")

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Mail transport. Without SMTP_HOST the process logs mail instead
	// of sending it.
	var mail mailer.Mailer = mailer.LogMailer{}
	if smtpHost := os.Getenv("SMTP_HOST"); smtpHost != "" {
		smtpPort := os.Getenv("SMTP_PORT")
		if smtpPort == "" {
			smtpPort = "587"
		}
		from := os.Getenv("SMTP_FROM")
		if from == "" {
			from = "noreply@ringi.local"
		}
		var auth smtp.Auth
		if user := os.Getenv("SMTP_USER"); user != "" {
			auth = smtp.PlainAuth("", user, os.Getenv("SMTP_PASSWORD"), smtpHost)
		}
		mail = mailer.NewSMTPMailer(smtpHost+":"+smtpPort, from, auth)
	}

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	approverRepo := repository.NewApproverRepository(db)
	logRepo := repository.NewApprovalLogRepository(db)
	sequence := repository.NewSequenceAllocator(db)

	registry := model.DefaultRegistry()
	notifier := service.NewMailNotifier(mail, baseURL)

	userService := service.NewUserService(userRepo, middleware.GetJWTSecret())
	workflowService := service.NewWorkflowService(txManager, requestRepo, approverRepo, logRepo, userRepo, sequence, registry, notifier, wsHub)
	requestService := service.NewRequestService(requestRepo, registry)
	reminderService := service.NewReminderService(requestRepo, mail, baseURL)

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService)
	requestHandler := handler.NewRequestHandler(requestService, workflowService, userService)
	workflowHandler := handler.NewWorkflowHandler(workflowService, reminderService, userService)

	// Daily reminder for approvals stalled past the threshold
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("0 9 * * *", func() {
		count, err := reminderService.SendReminders(context.Background(), false)
		if err != nil {
			log.Printf("reminder run failed: %v", err)
			return
		}
		log.Printf("reminder run covered %d stalled requests", count)
	}); err != nil {
		log.Fatalf("Scheduler setup failed: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"} // Frontend URL
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// Register API Routes
	userHandler.RegisterRoutes(router.Group(""))
	requestHandler.RegisterRoutes(router.Group(""))
	workflowHandler.RegisterRoutes(router.Group(""))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
