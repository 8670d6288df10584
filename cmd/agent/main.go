package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/config"
)

const startTimeout = 30 * time.Second

func main() {
	loadEnv()

	app := fx.New(
		fx.Provide(
			config.LoadAgent,
			newLogger,
			ProvideSession,
			ProvideStore,
			ProvideMonitor,
			ProvideGateway,
			ProvideProber,
			ProvideValidator,
			ProvideAnomalyDetector,
			ProvideCaptureService,
			ProvideOrchestrator,
			ProvideHandler,
		),
		fx.Invoke(startAgent),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tempLogger, _ := newLogger(&config.Config{ServiceName: "aqueduct-agent", LogLevel: "info"})
	tempLogger.Info("starting field agent...", zap.Duration("timeout", startTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), startTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("AGENT START TIMEOUT: failed to start within 30 seconds, check that the local store path is writable")
		}
		panic(err)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), startTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping agent:", err)
	}
}

// loadEnv loads the first .env found in the working directory or its parents
func loadEnv() {
	var envPaths []string
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	} else {
		envPaths = append(envPaths, ".env")
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			fmt.Printf("Loaded environment from: %s\n", envPath)
			return
		}
	}
	fmt.Println("No .env file found, using system environment variables")
}
