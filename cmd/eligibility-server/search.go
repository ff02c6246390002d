package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/eligibility/internal/config"
	"github.com/ehr/eligibility/internal/domain/eligibility"
	"github.com/ehr/eligibility/internal/platform/auth"
)

func searchCmd() *cobra.Command {
	var req eligibility.SearchRequest

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run an eligibility search through a running gateway and save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			dob, err := eligibility.NormalizeDateOfBirth(req.DateOfBirth)
			if err != nil {
				return err
			}
			req.DateOfBirth = dob

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = auth.WithUser(ctx, cliUser(), []string{"staff"})
			logger := newLogger(cfg.Env)

			var cl cleanup
			defer cl.run()

			rdb, err := openRedis(ctx, cfg)
			if err != nil {
				return err
			}
			if rdb != nil {
				cl.add(func() { rdb.Close() })
			}
			storage, err := openTokenStorage(cfg, rdb)
			if err != nil {
				return err
			}
			tokens := newTokenStack(ctx, cfg, storage, logger)

			store, err := openSearchStore(ctx, cfg, zerolog.Nop(), &cl)
			if err != nil {
				return err
			}
			blobs, err := openBlobStore(ctx, cfg)
			if err != nil {
				return err
			}

			orch := eligibility.NewOrchestrator(tokens.manager, tokens.gateway, store.repo, blobs, logger)
			res, err := orch.Search(ctx, req)
			if err != nil {
				var se *eligibility.SearchError
				if errors.As(err, &se) && se.Stage == eligibility.StageNoToken {
					return fmt.Errorf("%w (is the gateway running at %s?)", err, cfg.GatewayURL)
				}
				return err
			}
			if err := store.access.Record(ctx, cliAccessRecord(req.MemberID, res)); err != nil {
				logger.Error().Err(err).Msg("failed to record audit entry")
			}
			renderSearchResult(os.Stdout, res)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.MemberID, "member-id", "", "Member ID (required)")
	f.StringVar(&req.DateOfBirth, "dob", "", "Date of birth, MM/DD/YYYY or YYYY-MM-DD (required)")
	f.StringVar(&req.FirstName, "first-name", "", "Patient first name")
	f.StringVar(&req.LastName, "last-name", "", "Patient last name")
	f.StringVar(&req.PayerID, "payer-id", "", "Payer ID")
	f.StringVar(&req.ProviderLastName, "provider-last-name", "", "Provider last name")
	f.StringVar(&req.TaxIDNumber, "tax-id", "", "Provider tax ID number")
	_ = cmd.MarkFlagRequired("member-id")
	_ = cmd.MarkFlagRequired("dob")
	return cmd
}

func historyCmd() *cobra.Command {
	var memberID string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved eligibility searches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			var cl cleanup
			defer cl.run()
			store, err := openSearchStore(ctx, cfg, zerolog.Nop(), &cl)
			if err != nil {
				return err
			}

			params := map[string]string{}
			if memberID != "" {
				params["member_id"] = memberID
			}
			records, total, err := store.repo.Search(ctx, params, limit, offset)
			if err != nil {
				return err
			}
			renderHistory(os.Stdout, records, total)
			return nil
		},
	}

	cmd.Flags().StringVar(&memberID, "member-id", "", "Only show searches for this member")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func cliUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderSearchResult(w io.Writer, res *eligibility.SearchResult) {
	rec, p := res.Record, res.Policy

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendRows([]table.Row{
		{"Search ID", rec.ID},
		{"Patient", rec.PatientName},
		{"Member ID", rec.MemberID},
		{"Date of Birth", eligibility.FormatUSDate(rec.DateOfBirth)},
		{"Payer", strings.TrimSpace(p.PayerName + " " + p.PayerID)},
		{"Plan", p.PlanDescription},
		{"Policy Status", p.PolicyStatus},
		{"Coverage Dates", eligibility.FormatUSDate(p.EligibilityStart) + " - " + eligibility.FormatUSDate(p.EligibilityEnd)},
		{"Policies Returned", p.PolicyCount},
		{"Coverage Details", yesNo(rec.HasCoverage())},
		{"Member Card", yesNo(rec.MemberCard.HasImage())},
		{"Saved", yesNo(res.Persisted)},
	})
	for _, d := range res.Diagnostics {
		t.AppendRow(table.Row{"Note (" + d.Stage + ")", d.Message})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func renderHistory(w io.Writer, records []*eligibility.SearchRecord, total int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Searched At", "Patient", "Member ID", "DOB", "Coverage", "Card", "By", "ID"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.SearchedAt.Local().Format("2006-01-02 15:04"),
			r.PatientName,
			r.MemberID,
			eligibility.FormatUSDate(r.DateOfBirth),
			yesNo(r.HasCoverage()),
			yesNo(r.MemberCard.HasImage()),
			r.SearchedBy,
			r.ID,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", total})
	t.SetStyle(table.StyleLight)
	t.Render()
}
