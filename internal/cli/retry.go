package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/sms-notifier/internal/notify"
)

func NewRetryFailedCommand(rootOpts *RootOptions, factory ServiceFactory) *cobra.Command {
	var maxRetryCount, limit int
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Re-send failed deliveries once each",
		Long: `Re-send failed log records whose retry count is below --max-retry-count,
newest first, up to --limit records. Each record is updated in place.
Zero values fall back to SMS_RETRY_MAX_COUNT and SMS_RETRY_BATCH_LIMIT.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxRetryCount < 0 || limit < 0 {
				return NewExitError(ExitCommandError, "--max-retry-count and --limit must not be negative")
			}
			return withService(cmd, factory, true, func(svc *notify.Service) error {
				out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
				res, err := svc.RetryFailed(cmd.Context(), maxRetryCount, limit)
				if err != nil {
					return WrapExitError(ExitFailure, "retry batch", err)
				}
				if err := out.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "total=%d successful=%d failed=%d skipped=%d\n", res.Total, res.Successful, res.Failed, res.Skipped)
					for _, e := range res.Errors {
						fmt.Fprintf(w, "  %s [%s] %s\n", e.ID, e.Kind, e.Message)
					}
				}); err != nil {
					return err
				}
				if res.Failed > 0 || res.Skipped > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) not delivered", res.Failed+res.Skipped))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxRetryCount, "max-retry-count", 0, "only retry records retried fewer times than this")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to process")
	return cmd
}

func NewPurgeCandidatesCommand(rootOpts *RootOptions, factory ServiceFactory) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:           "purge-candidates",
		Short:         "Count log records a retention sweep could remove",
		Long:          "Count delivery log records older than --older-than. Nothing is deleted.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, factory, false, func(svc *notify.Service) error {
				n, err := svc.PurgeCandidates(cmd.Context(), olderThan)
				if err != nil {
					return WrapExitError(ExitCommandError, "count purge candidates", err)
				}
				out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
				return out.Success(map[string]any{"older_than": olderThan.String(), "count": n}, func(w io.Writer) {
					fmt.Fprintf(w, "%d record(s) older than %s\n", n, olderThan)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "retention window")
	return cmd
}
