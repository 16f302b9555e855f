package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/api"
	"github.com/screenvet/screenvet/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and the periodic follow-up sweeper",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log2, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		log2.Fatal("getting a config", zap.Error(err))
	}

	log2.Info("starting screenvet", zap.String("version", version))

	app, err := buildApplication(ctx, config, log2)
	if err != nil {
		log2.Fatal("wiring the application", zap.Error(err))
	}
	defer app.Close()

	router := api.NewRouter(app.db, app.sessions, app.turns, app.controller, app.orch, log2)

	srv := &http.Server{
		Addr:         app.listen,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go app.sweeper.RunLoop(ctx)

	go func() {
		log2.Info("http server listening", zap.String("addr", app.listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log2.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log2.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log2.Warn("http shutdown failed", zap.Error(err))
	}
}
