package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/timmy/mpcrawl/internal/app"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/service"
)

type articlesOptions struct {
	query    domain.ArticleQuery
	fullText string
}

func newArticlesCommand(root *rootOptions) *cobra.Command {
	opts := &articlesOptions{}
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "List stored articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			ctx := log.WithContext(cmd.Context())
			application, err := app.New(ctx, cfg, log, app.Options{SkipScheduler: true})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = application.Shutdown(shutdownCtx)
			}()

			var resp *service.ArticleListResponse
			if opts.fullText != "" {
				resp, err = application.Articles.SearchArticles(ctx, opts.fullText, opts.query.Page, opts.query.PerPage)
			} else {
				resp, err = application.Articles.ListArticles(ctx, opts.query)
			}
			if err != nil {
				return err
			}
			renderArticles(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.query.Account, "account", "a", "", "only articles of this account")
	flags.StringVar(&opts.query.Category, "category", "", "only articles in this category")
	flags.StringVar(&opts.query.Search, "search", "", "substring of title or content")
	flags.StringVar(&opts.fullText, "query", "", "full-text query, uses the search index when enabled")
	flags.IntVar(&opts.query.Page, "page", 1, "page number")
	flags.IntVar(&opts.query.PerPage, "per-page", 20, "articles per page")
	return cmd
}

func renderArticles(w io.Writer, resp *service.ArticleListResponse) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Title", WidthMax: 48},
		{Name: "Reads", Align: text.AlignRight},
	})
	t.AppendHeader(table.Row{"Published", "Account", "Title", "Category", "Reads"})
	for _, a := range resp.Articles {
		t.AppendRow(table.Row{
			a.PublishTime.Format("2006-01-02"),
			a.AccountName,
			a.Title,
			a.Category,
			a.ReadCount,
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("page %d, %d of %d", resp.Page, len(resp.Articles), resp.Total)})
	t.Render()
}
