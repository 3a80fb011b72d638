package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mlbrnm/incidentgpt/internal/config"
	internal_http "github.com/mlbrnm/incidentgpt/internal/http"
	"github.com/mlbrnm/incidentgpt/internal/log"
	"github.com/mlbrnm/incidentgpt/pkg/extract"
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// SetupCLI registers the commands on rootCmd. Persistent flags are bound to v
// so they override environment and config file values.
func SetupCLI(rootCmd *cobra.Command, v *viper.Viper) {
	flags := rootCmd.PersistentFlags()
	flags.String("db", "", "Database DSN (file path for sqlite, URL for postgres)")
	flags.String("driver", "", "Store driver: sqlite, postgres or memory")
	_ = v.BindPFlag("db_dsn", flags.Lookup("db"))
	_ = v.BindPFlag("db_driver", flags.Lookup("driver"))

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the sources, generate solutions and serve the dashboard API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	serveCmd.Flags().String("port", "", "HTTP port for the API")
	_ = v.BindPFlag("port", serveCmd.Flags().Lookup("port"))

	pollCmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one pull cycle per enabled source and wait for generation to finish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			only, _ := cmd.Flags().GetString("source")
			return pollOnce(cmd.Context(), cfg, only, cmd.OutOrStdout())
		},
	}
	pollCmd.Flags().String("source", "", "Only poll this source (servicenow or zabbix)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			archived, _ := cmd.Flags().GetBool("archived")
			return withItems(v, func(svc *service.ItemService) error {
				return listItems(svc, archived, cmd.OutOrStdout())
			})
		},
	}
	listCmd.Flags().Bool("archived", false, "List archived items instead of active ones")

	historyCmd := &cobra.Command{
		Use:   "history [key]",
		Short: "Show the solution history of an item, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withItems(v, func(svc *service.ItemService) error {
				return showHistory(svc, args[0], cmd.OutOrStdout())
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [key]",
		Short: "Delete an item and its solution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withItems(v, func(svc *service.ItemService) error {
				if err := svc.DeleteItem(args[0]); err != nil {
					return fmt.Errorf("failed to delete %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}

	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "Print the section of a record block (read from stdin) most similar to --text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _ := cmd.Flags().GetString("text")
			sep, _ := cmd.Flags().GetString("separator")
			block, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read block: %w", err)
			}
			m := extract.BestSection(string(block), text, sep)
			log.GetLogger().Debugf("Best section %d with ratio %.3f", m.Index, m.Ratio)
			fmt.Fprintln(cmd.OutOrStdout(), m.Section)
			return nil
		},
	}
	extractCmd.Flags().String("text", "", "Text to match against the sections")
	extractCmd.Flags().String("separator", extract.Separator, "Section separator")
	_ = extractCmd.MarkFlagRequired("text")

	rootCmd.AddCommand(serveCmd, pollCmd, listCmd, historyCmd, deleteCmd, extractCmd)
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if len(a.sources) == 0 {
		log.GetLogger().Warn("No source is configured; serving stored items only")
	}
	if _, err := a.pipeline.Backfill(); err != nil {
		log.GetLogger().Errorf("Backfill failed: %v", err)
	}

	mux := internal_http.NewMux(internal_http.Deps{
		Items:    a.items,
		Pipeline: a.pipeline,
		Hub:      a.hub,
		Metrics:  a.recorder.Handler(),
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range a.sources {
		poller := service.NewPoller(a.pipeline, src, log.ForComponent(string(src.Name())), cfg.PollInterval, cfg.PollBackoff)
		g.Go(func() error { return poller.Run(gctx) })
	}
	g.Go(func() error { return internal_http.StartServer(gctx, cfg.Port, mux) })

	err = g.Wait()
	log.GetLogger().Info("Stopped")
	return err
}

func pollOnce(ctx context.Context, cfg config.Config, only string, out io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ran := 0
	for _, src := range a.sources {
		if only != "" && string(src.Name()) != only {
			continue
		}
		ran++
		res, err := a.pipeline.RunCycle(ctx, src)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d new, %d changed, %d unchanged, %d archived, %d skipped\n",
			res.Source, len(res.Inserted), len(res.Changed), len(res.Unchanged), len(res.Archived), len(res.Skipped))
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  error: %v\n", e)
		}
	}
	if ran == 0 {
		return fmt.Errorf("no enabled source matches %q", only)
	}

	start := time.Now()
	a.pipeline.Queue().Wait()
	if d := time.Since(start); d > time.Second {
		fmt.Fprintf(out, "Generation finished in %s\n", d.Round(time.Second))
	}
	return nil
}

func withItems(v *viper.Viper, fn func(svc *service.ItemService) error) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()
	return fn(service.NewItemService(store, nil, log.ForComponent("cli")))
}

func listItems(svc *service.ItemService, archived bool, out io.Writer) error {
	var (
		items []models.ItemView
		err   error
	)
	if archived {
		items, err = svc.ListArchived()
	} else {
		items, err = svc.ListActive()
	}
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "No items found.")
		return nil
	}
	for _, it := range items {
		solved := "pending"
		if it.Solution != nil {
			solved = "solved"
		}
		fmt.Fprintf(out, "- %s [%s] %s | %s | %s | %s\n",
			it.Key, it.Source, it.Status, it.ContextTag, oneLine(it.ShortDescription), solved)
	}
	return nil
}

func showHistory(svc *service.ItemService, key string, out io.Writer) error {
	history, err := svc.GetSolutionHistory(key)
	if err != nil {
		return fmt.Errorf("failed to get history for %s: %w", key, err)
	}
	if len(history) == 0 {
		fmt.Fprintf(out, "No solutions for %s yet.\n", key)
		return nil
	}
	for i, s := range history {
		fmt.Fprintf(out, "#%d generated %s\n%s\n\n", len(history)-i, s.GeneratedAt.UTC().Format(time.RFC3339), s.Text)
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
