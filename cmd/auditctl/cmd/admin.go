package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"auditchain/internal/audit/distribution"
	"auditchain/internal/audit/models"
	"auditchain/internal/audit/verifier"
)

func newKeysCmd(opts *options) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing keys",
	}
	keys.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Retire the current signing key and start a new epoch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var epoch models.SigningKeyEpoch
			if err := opts.client.Do(cmd.Context(), http.MethodPost, "/v1/admin/keys/rotate", nil, nil, &epoch); err != nil {
				return err
			}
			if opts.output() == "text" {
				_, err := fmt.Fprintf(opts.out, "new signing key %s\n", epoch.KeyID)
				return err
			}
			return opts.print(epoch)
		},
	})
	return keys
}

func newRetentionCmd(opts *options) *cobra.Command {
	retention := &cobra.Command{
		Use:   "retention",
		Short: "Manage retention policies",
	}

	var (
		days      int
		legalHold bool
	)
	set := &cobra.Command{
		Use:   "set <category>",
		Short: "Set the retention period and legal hold for a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"retentionDays": days, "legalHold": legalHold}
			var policy models.RetentionPolicy
			path := "/v1/admin/retention/" + url.PathEscape(args[0])
			if err := opts.client.Do(cmd.Context(), http.MethodPut, path, nil, body, &policy); err != nil {
				return err
			}
			return opts.print(policy)
		},
	}
	set.Flags().IntVar(&days, "days", 0, "retention period in days")
	set.Flags().BoolVar(&legalHold, "legal-hold", false, "freeze deletion for the category")
	_ = set.MarkFlagRequired("days")

	retention.AddCommand(set)
	return retention
}

func newVerifyCmd(opts *options) *cobra.Command {
	var start, end uint64
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify hashes, signatures and links over a sequence range",
		Long: `verify replays the chain between --start and --end (0 means the
current tail) and reports every violation found. The command exits non-zero
when the range is not valid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]uint64{"start": start, "end": end}
			var report verifier.Report
			if err := opts.client.Do(cmd.Context(), http.MethodPost, "/v1/admin/verify", nil, body, &report); err != nil {
				return err
			}
			if opts.output() == "text" {
				if err := printReport(opts, report); err != nil {
					return err
				}
			} else if err := opts.print(report); err != nil {
				return err
			}
			if !report.Valid {
				return fmt.Errorf("integrity violations found in %d..%d", report.Start, report.End)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&start, "start", 1, "first sequence")
	cmd.Flags().Uint64Var(&end, "end", 0, "last sequence (0 = tail)")
	return cmd
}

func printReport(opts *options, report verifier.Report) error {
	tw := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "range\t%d..%d\n", report.Start, report.End)
	fmt.Fprintf(tw, "checked\t%d (redacted %d, batches %d)\n", report.Checked, report.Redacted, report.Batches)
	fmt.Fprintf(tw, "valid\t%t\n", report.Valid)
	if len(report.Violations) > 0 {
		fmt.Fprintln(tw, "\nSEQ\tKIND\tLEVEL\tDETAIL")
		for _, v := range report.Violations {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", v.Sequence, v.Kind, v.Level, v.Detail)
		}
	}
	return tw.Flush()
}

func newDeletionsCmd(opts *options) *cobra.Command {
	deletions := &cobra.Command{
		Use:   "deletions",
		Short: "Review and confirm retention deletion requests",
	}

	var state string
	list := &cobra.Command{
		Use:   "list",
		Short: "List deletion requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			var body struct {
				Requests []models.DeletionRequest `json:"requests"`
			}
			if err := opts.client.Do(cmd.Context(), http.MethodGet, "/v1/admin/deletions", q, nil, &body); err != nil {
				return err
			}
			if opts.output() != "text" {
				return opts.print(body.Requests)
			}
			tw := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCATEGORY\tSTATE\tENTRIES\tCUTOFF")
			for _, r := range body.Requests {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Category, r.State, len(r.Sequences), r.Cutoff.Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&state, "state", "", "pending_confirmation, executed or cancelled")

	confirm := &cobra.Command{
		Use:   "confirm <request-id>",
		Short: "Record this operator's confirmation of a deletion request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req models.DeletionRequest
			path := "/v1/admin/deletions/" + url.PathEscape(args[0]) + "/confirm"
			if err := opts.client.Do(cmd.Context(), http.MethodPost, path, nil, nil, &req); err != nil {
				return err
			}
			if opts.output() == "text" {
				_, err := fmt.Fprintf(opts.out, "request %s is %s\n", req.ID, req.State)
				return err
			}
			return opts.print(req)
		},
	}

	deletions.AddCommand(list, confirm)
	return deletions
}

func newSinksCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sinks",
		Short: "Show distribution sink counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body struct {
				Sinks []distribution.Stats `json:"sinks"`
			}
			if err := opts.client.Do(cmd.Context(), http.MethodGet, "/v1/admin/sinks", nil, nil, &body); err != nil {
				return err
			}
			if opts.output() != "text" {
				return opts.print(body.Sinks)
			}
			tw := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SINK\tBREAKER\tENQUEUED\tDELIVERED\tRETRIES\tDROPPED\tQUEUED")
			for _, s := range body.Sinks {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					s.Sink, s.BreakerState, s.Enqueued, s.Delivered, s.Retries, s.DroppedEntries, s.Queued)
			}
			return tw.Flush()
		},
	}
}
