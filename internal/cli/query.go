package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/sms-notifier/internal/attemptlog"
	"github.com/example/sms-notifier/internal/notify"
	"github.com/example/sms-notifier/internal/template"
)

var filterFlags = []string{"type", "status", "recipient", "entry_id", "customer_id", "location_id", "operator_id", "from", "to"}

func NewStatsCommand(rootOpts *RootOptions, factory ServiceFactory) *cobra.Command {
	values := map[string]*string{}
	cmd := &cobra.Command{
		Use:           "stats",
		Short:         "Summarise delivery attempts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, factory, false, func(svc *notify.Service) error {
				f, err := notify.ParseFilter(func(k string) string {
					if v, ok := values[k]; ok {
						return *v
					}
					return ""
				}, svc.Location())
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid filter", err)
				}
				snap, err := svc.Statistics(cmd.Context(), f)
				if err != nil {
					return WrapExitError(ExitFailure, "compute statistics", err)
				}
				out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
				return out.Success(snap, func(w io.Writer) {
					fmt.Fprintf(w, "total=%d sent=%d failed=%d pending=%d\n", snap.Total, snap.Sent, snap.Failed, snap.Pending)
					writeCounts(w, "type", snap.ByType)
					writeCounts(w, "date", snap.ByDate)
				})
			})
		},
	}
	for _, name := range filterFlags {
		values[name] = cmd.Flags().String(flagName(name), "", "filter by "+name)
	}
	return cmd
}

func NewTemplatesCommand(rootOpts *RootOptions, factory ServiceFactory) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:           "templates",
		Short:         "List registered SMS templates",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, factory, false, func(svc *notify.Service) error {
				list, err := svc.ListTemplates(template.Category(category))
				if err != nil {
					return WrapExitError(ExitCommandError, "list templates", err)
				}
				out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
				return out.Success(list, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "KEY\tEXTERNAL ID\tCATEGORY\tVARIABLES\tACTIVE")
					for _, s := range list {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\n", s.Key, s.ExternalID, s.Category, s.VariableCount, s.IsActive)
					}
					_ = tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only active templates in this category (reminder|confirmation|disposal)")
	return cmd
}

func NewLogsCommand(rootOpts *RootOptions, factory ServiceFactory) *cobra.Command {
	var entryID, customerID string
	cmd := &cobra.Command{
		Use:           "logs",
		Short:         "Show delivery attempts for an entry or customer",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (entryID == "") == (customerID == "") {
				return NewExitError(ExitCommandError, "exactly one of --entry-id or --customer-id is required")
			}
			return withService(cmd, factory, false, func(svc *notify.Service) error {
				var (
					records []attemptlog.Attempt
					err     error
				)
				if entryID != "" {
					records, err = svc.LogsByEntry(cmd.Context(), entryID)
				} else {
					records, err = svc.LogsByCustomer(cmd.Context(), customerID)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "load logs", err)
				}
				if records == nil {
					records = []attemptlog.Attempt{}
				}
				out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
				return out.Success(records, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "TIME\tTYPE\tRECIPIENT\tSTATUS\tRETRIES\tDETAIL")
					for _, r := range records {
						detail := r.MessageID
						if r.Status == attemptlog.StatusFailed {
							detail = r.ErrorMessage
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
							r.Timestamp.Format("2006-01-02 15:04:05"), r.Type, r.Recipient, r.Status, r.RetryCount, detail)
					}
					_ = tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&entryID, "entry-id", "", "entry id")
	cmd.Flags().StringVar(&customerID, "customer-id", "", "customer id")
	return cmd
}

func writeCounts(w io.Writer, label string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s %s: %d\n", label, k, counts[k])
	}
}

func flagName(param string) string {
	return strings.ReplaceAll(param, "_", "-")
}
