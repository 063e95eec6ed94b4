// =============================================================================
// tokengate 主入口
// =============================================================================
//
// 使用方法:
//
//	tokengate call --config config.yaml --context-file doc.txt "question"
//	tokengate batch --context-file doc.txt --prompts questions.txt
//	tokengate route --mode auto "compare the two proposals"
//	tokengate classify "why did the build fail"
//	tokengate cost --model gemini-2.5-pro --input 250000 --output 4000
//	tokengate cache list
//	tokengate cache prune
//	tokengate version
// =============================================================================

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/tokengate/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "call":
		err = runCall(ctx, os.Args[2:], os.Stdout)
	case "batch":
		err = runBatch(ctx, os.Args[2:], os.Stdout)
	case "route":
		err = runRoute(ctx, os.Args[2:], os.Stdout)
	case "classify":
		err = runClassify(os.Args[2:], os.Stdout)
	case "cost":
		err = runCost(os.Args[2:], os.Stdout)
	case "cache":
		err = runCache(ctx, os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "tokengate %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `tokengate - budget-aware dispatch for generative model calls

Usage:
  tokengate <command> [options]

Commands:
  call      Execute one call, reusing a cached context when worthwhile
  batch     Execute one call per line of a prompts file, concurrently
  route     Pick a strategy for a task (fast / deep / auto)
  classify  Classify a task description as fast or deep
  cost      Price a token usage against the pricing table
  cache     Inspect the context cache manifest (list / prune)
  version   Show version information
  help      Show this help message

Common options:
  --config <path>         Path to configuration file (YAML)
  --metrics-addr <addr>   Expose /metrics while call, batch or route runs

Examples:
  tokengate call --context-file report.txt "summarize section 3"
  tokengate batch --context-file report.txt --prompts questions.txt
  tokengate route --mode deep "why did revenue drop in Q3"
  tokengate cost --model gemini-2.5-pro --input 250000 --output 4000
  tokengate cache prune --config /etc/tokengate/config.yaml`)
}

// =============================================================================
// 🔧 配置与日志
// =============================================================================

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithEnvPrefix("TOKENGATE")
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		// stdout 留给命令输出
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
