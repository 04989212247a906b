package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/sms-notifier/internal/notify"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

// ServiceFactory builds the service for one command run. requireGateway is
// false for commands that never call the gateway. The returned func releases
// resources.
type ServiceFactory func(ctx context.Context, requireGateway bool) (*notify.Service, func(), error)

// NewRootCommand creates the smsctl command tree. The scheduler invokes
// retry-failed and purge-candidates; the rest serve operators.
func NewRootCommand(factory ServiceFactory) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "smsctl",
		Short:         "Operate the SMS notification subsystem",
		Long:          "Send DLT-templated SMS, retry failed deliveries and inspect the delivery log.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSendCommand(opts, factory))
	cmd.AddCommand(NewRetryFailedCommand(opts, factory))
	cmd.AddCommand(NewStatsCommand(opts, factory))
	cmd.AddCommand(NewTemplatesCommand(opts, factory))
	cmd.AddCommand(NewLogsCommand(opts, factory))
	cmd.AddCommand(NewPurgeCandidatesCommand(opts, factory))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withService runs fn against a freshly built service and always releases it.
func withService(cmd *cobra.Command, factory ServiceFactory, requireGateway bool, fn func(*notify.Service) error) error {
	svc, release, err := factory(cmd.Context(), requireGateway)
	if err != nil {
		return WrapExitError(ExitCommandError, "initialise sms service", err)
	}
	if release != nil {
		defer release()
	}
	if svc == nil {
		return NewExitError(ExitCommandError, "sms service is not configured")
	}
	return fn(svc)
}
