// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vendor-onboarding/internal/api"
	"vendor-onboarding/internal/blob"
	"vendor-onboarding/internal/broadcast"
	commonaws "vendor-onboarding/internal/common/aws"
	"vendor-onboarding/internal/common/config"
	"vendor-onboarding/internal/common/database"
	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/jobs"
	"vendor-onboarding/internal/mailer"
	"vendor-onboarding/internal/sender"
	"vendor-onboarding/internal/store"
	"vendor-onboarding/internal/submission"
	"vendor-onboarding/internal/watcher"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("info", "console")
		fallback.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting vendor onboarding server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init AWS Clients ---
	sesClient, err := commonaws.NewSESClient(ctx, cfg.Mail.AWSRegion)
	if err != nil {
		zapLog.Fatal("ses client failed", zap.Error(err))
	}
	snsClient, err := commonaws.NewSNSClient(ctx, cfg.Mail.AWSRegion)
	if err != nil {
		zapLog.Fatal("sns client failed", zap.Error(err))
	}
	zapLog.Info("AWS clients initialized")

	// --- Init Storage and Hub ---
	blobs, err := blob.NewStore(cfg.Documents.Dir)
	if err != nil {
		zapLog.Fatal("document store failed", zap.Error(err))
	}
	db := store.New(pg.DB, log)
	hub := broadcast.NewHub(log)
	defer hub.Close()

	// --- Init Mail Pipeline ---
	mail := mailer.NewSESMailer(sesClient, mailer.Options{
		SendTimeout: time.Duration(cfg.Sender.SendTimeout) * time.Second,
		Retries:     cfg.Sender.SendRetries,
		RetryDelay:  time.Duration(cfg.Sender.SendRetryDelay) * time.Millisecond,
	}, log)

	mailSender := sender.New(db.Companies, db.Notifications, mail, hub, sender.Config{
		From:           cfg.Mail.From,
		BaseURL:        cfg.Links.BaseURL,
		InterSendDelay: time.Duration(cfg.Sender.InterSendDelay) * time.Second,
		StoreRetries:   cfg.Sender.StoreRetries,
		StoreDelay:     time.Duration(cfg.Sender.StoreDelay) * time.Millisecond,
		LinkTTL:        time.Duration(cfg.Links.TTLDays) * 24 * time.Hour,
	}, log)

	tracker := jobs.NewTracker(rdb.Client)
	runner := jobs.NewRunner(tracker, hub, log, 0)
	go runner.Start(ctx)

	// --- Init Submission Service ---
	submissions := submission.New(db.Companies, db.Notifications, hub, blobs, submission.Config{
		LinkTTL:      time.Duration(cfg.Links.TTLDays) * 24 * time.Hour,
		StoreRetries: cfg.Submission.StoreRetries,
		StoreDelay:   time.Duration(cfg.Submission.StoreDelay) * time.Millisecond,
	}, log)

	// --- Init Inbox Watcher ---
	mailbox := watcher.NewIMAPMailbox(watcher.IMAPConfig{
		Address:  cfg.Mail.IMAP.GetAddress(),
		Username: cfg.Mail.IMAP.Username,
		Password: cfg.Mail.IMAP.Password,
		Mailbox:  cfg.Mail.IMAP.Mailbox,
	}, log)
	alerter := watcher.NewSNSAlerter(snsClient, cfg.Alerts.SNSTopicARN)
	inboxWatcher := watcher.New(mailbox, db.Companies, db.Notifications, hub, blobs, alerter, watcher.Config{
		BounceSender:         cfg.Mail.BounceSender,
		MaxReconnectAttempts: cfg.Watcher.MaxReconnectAttempts,
		BackoffCap:           time.Duration(cfg.Watcher.BackoffCap) * time.Second,
	}, log)
	go inboxWatcher.Run(ctx)

	// --- Init HTTP Server ---
	apiServer := api.NewServer(
		db.Companies, db.Notifications, mailSender, runner, tracker, submissions, hub, hub,
		api.Options{
			MailFrom:       cfg.Mail.From,
			DocumentsDir:   blobs.Dir(),
			MaxUploadBytes: int64(cfg.Documents.MaxUploadMB) << 20,
			UploadTypes:    cfg.Documents.AllowedTypes,
		},
		log,
	)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      apiServer.Router(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.HTTP.Address))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}
	runner.Wait()

	zapLog.Info("Server stopped gracefully")
}
