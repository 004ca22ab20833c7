// Command termrepo serves terminology cascades, collection references and
// expansions, and runs the same operations from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SanteonNL/termrepo/cmd/termrepo/api"
	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource"
	"github.com/SanteonNL/termrepo/cmd/termrepo/fhir/bundle"
	"github.com/SanteonNL/termrepo/cmd/termrepo/jobs"
	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type rootOptions struct {
	envFile  string
	logLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:           "termrepo",
		Short:         "Terminology repository",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "Environment file to load")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(&opts),
		cascadeCmd(&opts),
		loadCmd(&opts),
		reexpandCmd(&opts),
	)
	return cmd
}

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			router := api.NewRouter(api.Services{
				Content:     a.store,
				Registry:    a.registry,
				Expansions:  a.expansions,
				Bundles:     a.bundles,
				ValueSets:   a.valueSets,
				Runner:      a.runner,
				Metrics:     promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}),
				DefaultMode: a.defaultMode(),
			}, a.log)

			server := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           router.SetupRoutes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				a.log.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("failed to serve: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				a.log.Info().Msg("Shutting down HTTP server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
}

func cascadeCmd(opts *rootOptions) *cobra.Command {
	var (
		query    string
		username string
		write    bool
	)

	cmd := &cobra.Command{
		Use:   "cascade <expression>...",
		Short: "Cascade from one or more expressions and print the bundle",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := url.ParseQuery(query)
			if err != nil {
				return fmt.Errorf("invalid parameters %q: %w", query, err)
			}
			params, err := bundle.ParamsFromQuery(values)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			var user *terminology.User
			if username != "" {
				user = &terminology.User{Username: username}
			}

			result, errs := a.traverser.CascadeExpressions(cmd.Context(), a.resolver, args, params, user)
			id := "cascade"
			if len(args) == 1 && len(result.Concepts) > 0 {
				id = result.Concepts[0].Mnemonic
			}
			out, err := a.bundles.Build(id, lastUpdated(result.Concepts), result, bundle.IssuesFromErrors(errs), bundle.Options{
				Verbose: bundle.IsVerbose(values),
			})
			if err != nil {
				return err
			}

			if write && a.output != nil {
				path, err := a.output.WriteToJSON(out, "cascade")
				if err != nil {
					return err
				}
				a.log.Info().Str("file", path).Int("total", result.Total).Msg("Wrote cascade bundle")
				return nil
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			encoder.SetEscapeHTML(false)
			return encoder.Encode(out)
		},
	}

	cmd.Flags().StringVar(&query, "params", "", "Cascade parameters as a query string, e.g. method=sourcemappings&cascadeLevels=*")
	cmd.Flags().StringVar(&username, "user", "", "Resolve expressions as this user")
	cmd.Flags().BoolVar(&write, "write", false, "Write the bundle to the output directory instead of stdout")
	return cmd
}

func lastUpdated(concepts []*terminology.Concept) time.Time {
	var latest time.Time
	for _, concept := range concepts {
		if concept.UpdatedAt.After(latest) {
			latest = concept.UpdatedAt
		}
	}
	return latest
}

func loadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <path>...",
		Short: "Load seed files or directories into the configured store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			loader := datasource.NewLoader(a.store, a.log)
			var errs []error
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if info.IsDir() {
					errs = append(errs, loader.LoadDirectory(cmd.Context(), path))
				} else {
					errs = append(errs, loader.LoadFile(cmd.Context(), path))
				}
			}
			return errors.Join(errs...)
		},
	}
}

func reexpandCmd(opts *rootOptions) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "reexpand <ownerType> <owner> <collection>",
		Short: "Rebuild the auto expansion of a collection version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			cv, err := a.registry.Version(cmd.Context(), args[0], args[1], args[2], version)
			if err != nil {
				return err
			}
			exp, _, err := a.registry.FixAutoExpansion(cmd.Context(), cv, nil, jobs.Synchronous)
			if err != nil {
				return err
			}
			if exp == nil {
				a.log.Info().Str("collection_version", cv.URI).Msg("Collection version does not auto-expand")
				return nil
			}
			a.log.Info().Str("collection_version", cv.URI).Str("expansion", exp.URI).Msg("Rebuilt auto expansion")
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", terminology.HEAD, "Collection version")
	return cmd
}
