package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gitlab.com/dirk.krummacker/message-relay/internal/comms"
	"gitlab.com/dirk.krummacker/message-relay/internal/config"
	"gitlab.com/dirk.krummacker/message-relay/internal/directory"
	"gitlab.com/dirk.krummacker/message-relay/internal/logging"
	"gitlab.com/dirk.krummacker/message-relay/internal/relay"
	"gitlab.com/dirk.krummacker/message-relay/internal/service"
)

const shutdownTimeout = 10 * time.Second

// contactStore is a directory that has to be closed on shutdown.
type contactStore interface {
	service.Directory
	relay.PresenceStore
	Close() error
}

// memoryStore gives the in-memory directory a no-op Close.
type memoryStore struct {
	*directory.Memory
}

func (memoryStore) Close() error { return nil }

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger, err := logging.New(os.Stderr, cfg.Log)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP port to listen on.")
	cmd.Flags().Bool("dev-mode", false, "Log SMS messages instead of sending them.")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("dev_mode", cmd.Flags().Lookup("dev-mode"))
	return cmd
}

func openDirectory(cfg *config.Config, logger *slog.Logger) (contactStore, error) {
	if !cfg.UseDatabase() {
		logger.Warn("no database configured, contacts are kept in memory")
		return memoryStore{directory.NewMemory()}, nil
	}
	db, err := directory.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	store, err := directory.NewMySQL(db,
		directory.WithCacheTTL(cfg.DefaultSenderTTL),
		directory.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newComms(cfg *config.Config, logger *slog.Logger) *comms.Service {
	s := &comms.Service{DevMode: cfg.DevMode, Logger: logger}
	client := &http.Client{Timeout: 15 * time.Second}
	if cfg.TwilioAccountSID != "" {
		s.SMS = &comms.Twilio{
			BaseURL:    cfg.TwilioBaseURL,
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			Client:     client,
		}
	}
	if cfg.SMTPAddr != "" {
		s.Mail = &comms.SMTP{Addr: cfg.SMTPAddr, Username: cfg.SMTPUser, Password: cfg.SMTPPassword}
	}
	if cfg.ChatGatewayURL != "" {
		s.Chat = &comms.HTTPChat{BaseURL: cfg.ChatGatewayURL, Token: cfg.ChatGatewayToken, Client: client}
	}
	if s.SMS == nil && !s.DevMode {
		logger.Warn("no Twilio account configured, SMS cannot be sent")
	}
	return s
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	contacts, err := openDirectory(cfg, logger)
	if err != nil {
		return err
	}
	defer contacts.Close()

	channels := newComms(cfg, logger)
	router := relay.NewRouter(cfg.Owner, contacts, channels,
		relay.WithLogger(logger),
		relay.WithDomains(cfg.ChatDomain, cfg.MailDomain),
		relay.WithLiveChatDomain(cfg.LiveChatDomain),
		relay.WithPresenceStore(contacts))

	if _, err := contacts.GetDefaultSender(ctx); err != nil {
		return err
	}

	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	svc := service.New(router, contacts, channels,
		service.WithLogger(logger),
		service.WithRequestLogging(cfg.GinLogging),
		service.WithAdminAccount(cfg.AdminUser, cfg.AdminPassword),
		service.WithWebhookToken(cfg.WebhookToken))
	if cfg.WebhookToken == "" {
		logger.Warn("no webhook.token configured, chat and email webhooks are rejected")
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           svc.SetupHttpRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", server.Addr, "dev_mode", cfg.DevMode)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
