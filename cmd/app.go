package cmd

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/admission"
	"github.com/screenvet/screenvet/internal/ai"
	"github.com/screenvet/screenvet/internal/ai/gemini"
	"github.com/screenvet/screenvet/internal/ats"
	"github.com/screenvet/screenvet/internal/logger"
	"github.com/screenvet/screenvet/internal/mail"
	"github.com/screenvet/screenvet/internal/secrets"
	"github.com/screenvet/screenvet/internal/store"
	"github.com/screenvet/screenvet/internal/vetting"
)

// application holds everything a command needs after wiring.
type application struct {
	db         *store.DB
	sessions   *store.SessionStore
	turns      *store.TurnStore
	controller *admission.Controller
	orch       *vetting.Orchestrator
	sweeper    *vetting.Sweeper
	listen     string
}

func (a *application) Close() {
	a.db.Close()
}

// buildApplication wires the full dependency graph from the config.
func buildApplication(ctx context.Context, config *Config, log *zap.Logger) (*application, error) {
	if config.Database == nil || config.Database.Path == "" {
		return nil, fmt.Errorf("database.path is required")
	}
	if config.ATS == nil || config.ATS.BaseURL == "" {
		return nil, fmt.Errorf("ats.base-url is required")
	}
	if config.Mail == nil {
		return nil, fmt.Errorf("mail configuration is required")
	}

	db, err := store.Open(config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sessions := store.NewSessionStore(db)
	turns := store.NewTurnStore(db)

	completer, err := newCompleter(ctx, config.AI, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	sender, err := newSender(config.Mail, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	atsClient, err := newATSClient(config.ATS, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	vcfg := vettingConfig(config.Vetting)

	maxLogLength := 0
	if config.AI != nil && config.AI.Gemini != nil {
		maxLogLength = config.AI.Gemini.MaxLogLength
	}

	orch := vetting.NewOrchestrator(vcfg, vetting.Deps{
		Sessions:   sessions,
		Turns:      turns,
		Questions:  vetting.NewQuestionService(completer, log, maxLogLength),
		Classifier: vetting.NewClassifier(completer, log, maxLogLength),
		Evaluator:  vetting.NewEvaluator(completer, log, maxLogLength),
		Sender:     sender,
		Notes:      atsClient,
		Logger:     log,
	})

	listen := ":8080"
	if config.Server != nil && config.Server.Listen != "" {
		listen = config.Server.Listen
	}

	return &application{
		db:         db,
		sessions:   sessions,
		turns:      turns,
		controller: admission.NewController(vcfg, sessions, atsClient, log),
		orch:       orch,
		sweeper:    vetting.NewSweeper(orch, log),
		listen:     listen,
	}, nil
}

func vettingConfig(cfg *VettingConfig) *vetting.Config {
	out := &vetting.Config{}
	if cfg != nil {
		out.Enabled = cfg.Enabled
		out.EnabledSince = cfg.EnabledSince
		out.MaxConcurrentSessions = cfg.MaxConcurrentSessions
		out.MaxTurns = cfg.MaxTurns
		out.FollowupHours = cfg.FollowupHours
		out.SweepInterval = cfg.SweepInterval
		out.RescreenAfter = cfg.RescreenAfter
		out.OutreachStagger = cfg.OutreachStagger
		out.FromName = cfg.FromName
		out.ReplyTo = cfg.ReplyTo
	}
	out.Normalize()
	return out
}

func newCompleter(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Completer, error) {
	if cfg == nil || cfg.Gemini == nil {
		return nil, fmt.Errorf("ai.gemini configuration is required")
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	genLogger := logger.WithFields(log, logger.AIFields("gemini", cfg.Gemini.Model)...)

	return gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
}

func newSender(cfg *MailConfig, log *zap.Logger) (mail.Sender, error) {
	password := ""
	if cfg.PasswordFile != "" {
		loaded, err := secrets.Load(secrets.Source{
			Name: "smtp password",
			File: cfg.PasswordFile,
		})
		if err != nil {
			return nil, err
		}
		password = loaded
	}

	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: password,
		From:     cfg.From,
		FromName: cfg.FromName,
	}, log)
}

func newATSClient(cfg *ATSConfig, log *zap.Logger) (*ats.Client, error) {
	token, err := secrets.Load(secrets.Source{
		Name: "ats token",
		File: cfg.TokenFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ats.token-file or ATS_TOKEN_FILE)", err)
	}

	client := ats.New(cfg.BaseURL, token, log)
	if cfg.UserAgent != "" {
		client.UserAgent = cfg.UserAgent
	}

	return client, nil
}
