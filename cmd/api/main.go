package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tempora/api/internal/app"
	"tempora/api/internal/authpw"
	"tempora/api/internal/config"
	"tempora/api/internal/directory"
	"tempora/api/internal/email"
	"tempora/api/internal/livestore"
	"tempora/api/internal/mention"
	"tempora/api/internal/notify"
	"tempora/api/internal/store"
	"tempora/api/internal/team"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	live, err := livestore.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer live.Close()

	var meiliClient *directory.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = directory.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		defer meiliClient.Close()
	}
	userDirectory := directory.NewService(meiliClient, directory.NewPostgres(db))
	userDirectory.ReindexFromPostgres(ctx)

	teamService := team.NewService(db)
	resolver := mention.NewResolver(teamService, userDirectory)

	var mailer notify.Mailer
	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppURL:   cfg.AppURL,
	})
	if emailService.IsConfigured() {
		log.Printf("mention email alerts enabled via %s", cfg.SMTPHost)
		mailer = emailService
	}

	notifier := notify.NewService(dataStore, live, dataStore, mailer)
	passwords := authpw.NewService(dataStore)

	service := app.NewService(dataStore, live, resolver, notifier, passwords, cfg.JWTSecret, cfg.SessionTTL)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Tempora API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
