package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/eligibility/internal/config"
	"github.com/ehr/eligibility/internal/domain/eligibility"
	"github.com/ehr/eligibility/internal/platform/hipaa"
	"github.com/ehr/eligibility/internal/platform/middleware"
)

func accessLogCmd() *cobra.Command {
	var q hipaa.AccessQuery
	var since time.Duration
	var csvOut bool

	cmd := &cobra.Command{
		Use:   "access-log",
		Short: "Show who accessed member data, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if since > 0 {
				t := time.Now().Add(-since)
				q.Since = &t
			}

			var cl cleanup
			defer cl.run()
			store, err := openSearchStore(ctx, cfg, zerolog.Nop(), &cl)
			if err != nil {
				return err
			}

			if csvOut {
				return hipaa.ExportCSV(ctx, store.access, q, os.Stdout)
			}
			records, total, err := store.access.Search(ctx, q)
			if err != nil {
				return err
			}
			renderAccessLog(os.Stdout, records, total)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&q.UserID, "user", "", "Only show access by this user")
	f.StringVar(&q.MemberID, "member-id", "", "Only show access to this member")
	f.StringVar(&q.Resource, "resource", "", "Only show this resource, e.g. searches or member-card")
	f.DurationVar(&since, "since", 0, "Only show access within this duration, e.g. 24h")
	f.IntVar(&q.Limit, "limit", 50, "Maximum rows")
	f.IntVar(&q.Offset, "offset", 0, "Rows to skip")
	f.BoolVar(&csvOut, "csv", false, "Write every matching row as CSV")
	return cmd
}

// cliAccessRecord describes a search run from the command line.
func cliAccessRecord(memberID string, res *eligibility.SearchResult) *hipaa.AccessRecord {
	rec := &hipaa.AccessRecord{
		UserID:     cliUser(),
		UserRoles:  []string{"staff"},
		Action:     "lookup",
		Resource:   "searches",
		MemberID:   middleware.MaskMemberID(memberID),
		Method:     "CLI",
		Path:       "search",
		StatusCode: 200,
	}
	if res != nil && res.Persisted && res.Record != nil {
		rec.SearchID = res.Record.ID.String()
		rec.StatusCode = 201
	}
	return rec
}

func renderAccessLog(w io.Writer, records []*hipaa.AccessRecord, total int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Accessed At", "User", "Roles", "Action", "Resource", "Member", "Status", "Path"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.AccessedAt.Local().Format("2006-01-02 15:04:05"),
			r.UserID,
			strings.Join(r.UserRoles, ","),
			r.Action,
			r.Resource,
			orDash(r.MemberID),
			r.StatusCode,
			fmt.Sprintf("%s %s", r.Method, r.Path),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", total})
	t.SetStyle(table.StyleLight)
	t.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
