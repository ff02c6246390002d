package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ehr/eligibility/internal/config"
	"github.com/ehr/eligibility/internal/domain/token"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect or change the cached upstream access token",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the cached token state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokens(cmd.Context(), func(ctx context.Context, ts *tokenStack, backend string) error {
				renderTokenStatus(os.Stdout, token.NewStatusView(ts.cache.Status(), ts.cache.Now()), backend)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Acquire a new token through the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokens(cmd.Context(), func(ctx context.Context, ts *tokenStack, backend string) error {
				st, err := ts.manager.Refresh(ctx)
				if err != nil {
					return err
				}
				renderTokenStatus(os.Stdout, token.NewStatusView(st, ts.cache.Now()), backend)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Discard the cached token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokens(cmd.Context(), func(ctx context.Context, ts *tokenStack, backend string) error {
				ts.manager.Invalidate(ctx)
				fmt.Println("Token cleared.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <bearer-token>",
		Short: "Store an operator-supplied token, valid for one hour",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokens(cmd.Context(), func(ctx context.Context, ts *tokenStack, backend string) error {
				st, err := ts.manager.SetManual(ctx, args[0])
				if err != nil {
					return err
				}
				renderTokenStatus(os.Stdout, token.NewStatusView(st, ts.cache.Now()), backend)
				return nil
			})
		},
	})

	return cmd
}

func withTokens(ctx context.Context, fn func(context.Context, *tokenStack, string) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cfg.Env)

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}
	storage, err := openTokenStorage(cfg, rdb)
	if err != nil {
		return err
	}
	return fn(ctx, newTokenStack(ctx, cfg, storage, logger), cfg.TokenStore)
}

func renderTokenStatus(w io.Writer, v token.StatusView, backend string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Valid", "Token", "Expires At", "Expires In", "Storage"})

	expiresAt := "-"
	if v.ExpiresAt != nil {
		expiresAt = v.ExpiresAt.Format("2006-01-02 15:04:05 MST")
	}
	tok, expiresIn := v.Token, v.ExpiresIn
	if tok == "" {
		tok = "(none)"
	}
	if expiresIn == "" {
		expiresIn = "-"
	}
	t.AppendRow(table.Row{v.Valid, tok, expiresAt, expiresIn, backend})
	t.SetStyle(table.StyleLight)
	t.Render()
}
