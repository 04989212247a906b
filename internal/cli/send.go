package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/example/sms-notifier/internal/attemptlog"
	"github.com/example/sms-notifier/internal/notify"
	"github.com/example/sms-notifier/internal/template"
)

type sendOptions struct {
	template  string
	recipient string
	vars      map[string]string
	corr      attemptlog.Correlation
}

func NewSendCommand(rootOpts *RootOptions, factory ServiceFactory) *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one templated SMS with bounded retry",
		Example: `  smsctl send --template threeDayReminder --to 9876543210 \
    --var var1=Rama --var var2=Locker-A --var var3=25/09/2025 --var var4=9198765432 --var var5=Locker-A`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, factory, true, func(svc *notify.Service) error {
				return runSend(cmd, rootOpts, svc, opts)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.template, "template", "t", "", "template key")
	cmd.Flags().StringVar(&opts.recipient, "to", "", "recipient mobile number")
	cmd.Flags().StringToStringVar(&opts.vars, "var", nil, "template variable as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.corr.EntryID, "entry-id", "", "correlated entry id")
	cmd.Flags().StringVar(&opts.corr.CustomerID, "customer-id", "", "correlated customer id")
	cmd.Flags().StringVar(&opts.corr.LocationID, "location-id", "", "correlated location id")
	cmd.Flags().StringVar(&opts.corr.OperatorID, "operator-id", "", "correlated operator id")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runSend(cmd *cobra.Command, rootOpts *RootOptions, svc *notify.Service, opts *sendOptions) error {
	out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	out.VerboseLog("sending %s to %s", opts.template, opts.recipient)

	res, err := svc.SendNotification(cmd.Context(), opts.template, opts.recipient, template.Variables(opts.vars), opts.corr)
	if err != nil {
		_ = out.Failure(res.Error, func(w io.Writer) {
			fmt.Fprintf(w, "send failed after %d attempt(s): %v\n", res.Attempts, res.Error)
			if res.Error != nil && res.Error.Hint != "" {
				fmt.Fprintf(w, "hint: %s\n", res.Error.Hint)
			}
		})
		return WrapExitError(ExitFailure, "send failed", err)
	}
	return out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "sent message %s after %d attempt(s)\n", res.MessageID, res.Attempts)
	})
}
