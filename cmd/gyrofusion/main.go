package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gyrofusion/internal/config"
	"gyrofusion/internal/web"
)

func main() {
	var configPath string
	var summarizePath string
	flag.StringVar(&configPath, "config", "./gyrofusion.yaml", "Path to YAML config")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a recorded sample log and exit")
	flag.Parse()

	if summarizePath != "" {
		if err := printLogSummary(os.Stdout, summarizePath); err != nil {
			fmt.Fprintf(os.Stderr, "summarize failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logs := web.NewLogBuffer(2000)
	logger, err := buildLogger(cfg.Log, logs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Infow("gyrofusion starting", "config", configPath, "source", cfg.AHRS.Source)
	rt, err := newRuntime(cfg, logs, log)
	if err != nil {
		log.Errorw("runtime init failed", "error", err)
		os.Exit(1)
	}
	if err := rt.Run(ctx); err != nil {
		log.Errorw("runtime stopped", "error", err)
	}
	if err := rt.Close(); err != nil {
		log.Warnw("shutdown", "error", err)
	}
	log.Infow("gyrofusion stopped")
}

// buildLogger builds the process logger from config and tees it into logs for /api/logs.
func buildLogger(c config.LogConfig, logs *web.LogBuffer) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	if logs == nil {
		return logger, nil
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	bufCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(logs), level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, bufCore)
	})), nil
}
