package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"eventdesk/internal/backend"
	"eventdesk/internal/catalog"
	"eventdesk/internal/config"
	"eventdesk/internal/constants"
	"eventdesk/internal/domain"
	"eventdesk/internal/filter"
	"eventdesk/internal/logger"
	"eventdesk/internal/session"
	"eventdesk/pkg/logging"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceName,
		Short: "Event desk console backend",
		Long:  "Console service serves the event desk UI: catalog browsing, application review and notifications",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (defaults and environment when empty)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(facetsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the console service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Console Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

type catalogFlags struct {
	token string
}

// openCatalog builds a one-shot catalog against the configured backend and
// loads it.
func openCatalog(ctx context.Context, flags catalogFlags) (*catalog.Service, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if flags.token == "" {
		flags.token = os.Getenv("EVENTDESK_TOKEN")
	}
	tokens := session.NewTokens(session.NewMemoryStore(0))
	if flags.token != "" {
		if err := tokens.SetToken(ctx, flags.token); err != nil {
			return nil, err
		}
	}

	evaluator, err := filterEvaluator(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	client := backend.NewFromConfig(cfg.Backend, cfg.CircuitBreaker, tokens, log)
	svc := catalog.NewService(client, cfg.Catalog, catalog.LimitsFrom(cfg.Backend), evaluator, log)
	if err := svc.ReloadEvents(ctx, true); err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return svc, nil
}

func eventsCmd() *cobra.Command {
	var (
		flags  catalogFlags
		params = map[string]*string{}
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events matching the given filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			svc, err := openCatalog(ctx, flags)
			if err != nil {
				return err
			}

			set := make(map[string]string, len(params))
			for name, value := range params {
				if *value != "" {
					set[name] = *value
				}
			}
			criteria, err := svc.Criteria(set)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), svc.Events(ctx, criteria))
		},
	}

	for _, name := range []string{"title", "type", "location", "format", "organizer", "open"} {
		params[name] = cmd.Flags().String(name, "", fmt.Sprintf("Filter by %s", name))
	}
	params[filter.ExpressionParam] = cmd.Flags().String(filter.ExpressionParam, "", "CEL expression over event fields")
	cmd.Flags().StringVar(&flags.token, "token", "", "Bearer token for the backend (or EVENTDESK_TOKEN)")
	return cmd
}

func facetsCmd() *cobra.Command {
	var (
		flags catalogFlags
		field string
	)

	cmd := &cobra.Command{
		Use:   "facets",
		Short: "Print the distinct values of an event field",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			svc, err := openCatalog(ctx, flags)
			if err != nil {
				return err
			}
			values, err := svc.Facets(field)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(values, "\n"))
			return err
		},
	}

	cmd.Flags().StringVar(&field, "field", "type", "Event field to list values of")
	cmd.Flags().StringVar(&flags.token, "token", "", "Bearer token for the backend (or EVENTDESK_TOKEN)")
	return cmd
}

func printEvents(out io.Writer, events []domain.Event) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tTYPE\tFORMAT\tLOCATION\tSTARTS\tOPEN")
	for _, ev := range events {
		starts := ""
		if !ev.StartsAt.IsZero() {
			starts = ev.StartsAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%t\n",
			ev.ID, ev.Title, ev.Type, ev.Format, ev.Location, starts, ev.RegistrationOpen)
	}
	return w.Flush()
}
