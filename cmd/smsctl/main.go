package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/sms-notifier/internal/app"
	"github.com/example/sms-notifier/internal/cli"
	"github.com/example/sms-notifier/internal/common"
	"github.com/example/sms-notifier/internal/notify"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	root := cli.NewRootCommand(buildService)
	err := root.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "smsctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

func buildService(ctx context.Context, requireGateway bool) (*notify.Service, func(), error) {
	cfg, err := common.LoadConfig("smsctl")
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(requireGateway); err != nil {
		return nil, nil, err
	}
	// Logs go to stderr so command output stays machine-readable.
	logger := common.NewLogger(cfg.ServiceName).Output(os.Stderr)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a.Service, a.Close, nil
}
