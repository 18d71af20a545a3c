package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/maareksillamae/mock-bank/internal/config"
	"github.com/maareksillamae/mock-bank/internal/directory"
	"github.com/maareksillamae/mock-bank/internal/exchange"
	"github.com/maareksillamae/mock-bank/internal/handler"
	"github.com/maareksillamae/mock-bank/internal/middleware"
	"github.com/maareksillamae/mock-bank/internal/repository"
	"github.com/maareksillamae/mock-bank/internal/service"
	"github.com/maareksillamae/mock-bank/internal/settlement"
	"github.com/maareksillamae/mock-bank/internal/trust"
)

func main() {
	// Optional .env for local development
	godotenv.Load()

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Apply schema migrations
	if err := runMigrations(db, cfg.MigrationsPath); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	dir := directory.New(repo, cfg.CentralBankURL, cfg.APIKey, logger)
	tr, err := trust.New(cfg.PrivateKeyPath, logger)
	if err != nil {
		logger.Fatalf("Failed to load signing key: %v", err)
	}
	converter := exchange.NewConverter(cfg.RateURL, logger)
	svc := service.NewService(repo, dir, tr, converter, cfg, logger)
	h := handler.NewHandler(svc, tr, logger)

	// Start the settlement sweep
	engine := settlement.New(repo, dir, tr, cfg.BankPrefix, cfg.SweepInterval, logger)
	if err := engine.Start(); err != nil {
		logger.Fatalf("Failed to start settlement engine: %v", err)
	}
	defer engine.Stop()
	go engine.Sweep(context.Background())

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/users", h.Register).Methods("POST")
	r.HandleFunc("/sessions", h.Login).Methods("POST")
	r.HandleFunc("/transfer/jwks", h.JWKS).Methods("GET")
	r.HandleFunc("/transfer/b2b", h.TransferB2B).Methods("POST")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg, repo))
	authRouter.HandleFunc("/logout", h.Logout).Methods("POST")
	authRouter.HandleFunc("/users/account", h.Profile).Methods("GET")
	authRouter.HandleFunc("/balance", h.Balance).Methods("GET")
	authRouter.HandleFunc("/transfer", h.CreateTransfer).Methods("POST")
	authRouter.HandleFunc("/transfer", h.History).Methods("GET")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting %s on %s (prefix %s)", cfg.BankName, addr, cfg.BankPrefix)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
