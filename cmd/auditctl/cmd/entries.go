package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"auditchain/internal/audit/merkle"
	"auditchain/internal/audit/models"
	"auditchain/internal/audit/service"
)

func newLogCmd(opts *options) *cobra.Command {
	var (
		spec      models.EventSpec
		actorType string
		severity  string
		tags      map[string]string
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Append an event to the audit log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec.Actor.Type = models.ActorType(actorType)
			if severity != "" {
				sev, err := models.ParseSeverity(severity)
				if err != nil {
					return err
				}
				spec.Severity = sev
			}
			spec.Metadata.Tags = tags

			var receipt service.Receipt
			if err := opts.client.Do(cmd.Context(), http.MethodPost, "/v1/events", nil, spec, &receipt); err != nil {
				return err
			}
			if opts.output() == "text" {
				_, err := fmt.Fprintf(opts.out, "sequence %d  entry %s  hash %s\n", receipt.Sequence, receipt.EntryID, receipt.ContentHash)
				return err
			}
			return opts.print(receipt)
		},
	}
	f := cmd.Flags()
	f.StringVar((*string)(&spec.Category), "category", "", "event category")
	f.StringVar(&spec.Event, "event", "", "event name, e.g. user.login")
	f.StringVar(&severity, "severity", "", "debug, info, warning, error or critical")
	f.StringVar(&actorType, "actor-type", string(models.ActorUser), "user, system, service or anonymous")
	f.StringVar(&spec.Actor.ID, "actor-id", "", "actor identifier")
	f.StringVar(&spec.Resource.Type, "resource-type", "", "resource type")
	f.StringVar(&spec.Resource.ID, "resource-id", "", "resource identifier")
	f.StringVar((*string)(&spec.Result.Status), "result", "", "success, failure, partial or error")
	f.StringToStringVar(&tags, "tag", nil, "metadata tag key=value (repeatable)")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func newEntriesCmd(opts *options) *cobra.Command {
	var (
		categories []string
		severities []string
		actors     []string
		start, end string
		limit      int
		offset     int
		verify     bool
	)
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Query committed entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			setList(q, "category", categories)
			setList(q, "severity", severities)
			setList(q, "actor", actors)
			for name, v := range map[string]string{"start": start, "end": end} {
				if v == "" {
					continue
				}
				if _, err := time.Parse(time.RFC3339, v); err != nil {
					return fmt.Errorf("--%s must be RFC 3339: %w", name, err)
				}
				q.Set(name, v)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			if verify {
				q.Set("verify", "true")
			}

			var result service.QueryResult
			if err := opts.client.Do(cmd.Context(), http.MethodGet, "/v1/entries", q, nil, &result); err != nil {
				return err
			}
			if opts.output() != "text" {
				return opts.print(result)
			}
			tw := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tTIME\tCATEGORY\tEVENT\tACTOR\tSEVERITY")
			for _, e := range result.Entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					e.Sequence, e.Timestamp.Format(time.RFC3339), e.Category, e.Event, e.Actor.ID, e.Severity)
			}
			fmt.Fprintf(tw, "\n%d of %d entries\n", len(result.Entries), result.TotalCount)
			if result.Integrity != nil {
				fmt.Fprintf(tw, "integrity: valid=%t violations=%d\n", result.Integrity.Valid, len(result.Integrity.Violations))
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&categories, "category", nil, "filter by category (repeatable)")
	f.StringSliceVar(&severities, "severity", nil, "filter by severity (repeatable)")
	f.StringSliceVar(&actors, "actor", nil, "filter by actor ID (repeatable)")
	f.StringVar(&start, "start", "", "earliest timestamp (RFC 3339)")
	f.StringVar(&end, "end", "", "latest timestamp (RFC 3339)")
	f.IntVar(&limit, "limit", 0, "page size")
	f.IntVar(&offset, "offset", 0, "page offset")
	f.BoolVar(&verify, "verify", false, "verify integrity of the returned span")
	return cmd
}

func newProofCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "proof <sequence>",
		Short: "Fetch a Merkle inclusion proof for a sealed entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("sequence must be a positive integer: %w", err)
			}
			var proof merkle.InclusionProof
			if err := opts.client.Do(cmd.Context(), http.MethodGet, fmt.Sprintf("/v1/entries/%d/proof", seq), nil, nil, &proof); err != nil {
				return err
			}
			return opts.print(proof)
		},
	}
}

func setList(q url.Values, key string, values []string) {
	if len(values) > 0 {
		q.Set(key, strings.Join(values, ","))
	}
}
