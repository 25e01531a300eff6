package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-mantle/internal/appearance"
	"github.com/joeblew999/plat-mantle/internal/compat"
	"github.com/joeblew999/plat-mantle/internal/data"
	"github.com/joeblew999/plat-mantle/internal/db"
	"github.com/joeblew999/plat-mantle/internal/expr"
	"github.com/joeblew999/plat-mantle/internal/server"
)

// Options defines all CLI flags and env vars for the mantle server.
// Flags: --host, --port, --data-dir, --fetch-timeout
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_FETCH_TIMEOUT
type Options struct {
	Host         string `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir      string `doc:"Directory for layers and data sources" default:".data"`
	FetchTimeout int    `doc:"Remote fetch timeout in seconds" default:"30"`
}

func (o *Options) fetchTimeout() time.Duration {
	return time.Duration(o.FetchTimeout) * time.Second
}

func newServer(opts *Options) *server.Server {
	return server.New(server.Config{
		Host:         opts.Host,
		Port:         fmt.Sprintf("%d", opts.Port),
		DataDir:      opts.DataDir,
		FetchTimeout: opts.fetchTimeout(),
	})
}

// newEvaluator builds an evaluator whose relative data urls resolve
// against root.
func newEvaluator(opts *Options, root string) *appearance.Evaluator {
	dbCfg := db.Config{DataDir: opts.DataDir, DBName: "mantle"}
	router := data.NewDefaultRouter(
		data.WithProvider(data.NewMuxProvider(
			data.NewHTTPProvider(opts.fetchTimeout()),
			data.FileProvider{Root: root},
		)),
		data.WithDB(func() (*sql.DB, error) { return db.Get(dbCfg) }),
	)
	return appearance.NewEvaluator(router, appearance.WithParseCache(expr.NewParseCache()))
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		srv := newServer(opts)
		ctx, cancel := context.WithCancel(context.Background())
		httpServer := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Handler: srv,
		}

		hooks.OnStart(func() {
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-mantle API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			go func() {
				if err := srv.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("poller stopped", "err", err)
				}
			}()
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("server error", "err", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			cancel()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = httpServer.Shutdown(shutdownCtx)
			_ = srv.Close()
		})
	})

	cli.Root().Use = "mantle"
	cli.Root().Short = "Layer appearance evaluation and legacy layer conversion"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// eval subcommand: compute the appearance of a layer file
	evalCmd := &cobra.Command{
		Use:   "eval",
		Short: "Fetch and compute the appearance of the layers in a JSON or YAML file",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			file, _ := cmd.Flags().GetString("file")
			useYAML, _ := cmd.Flags().GetBool("yaml")

			layers, err := readLayers(file)
			exitOnError(err)

			eval := newEvaluator(opts, filepath.Dir(file))
			computed, err := eval.EvalLayers(cmd.Context(), layers, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
			exitOnError(writeOutput(computed, useYAML))
		}),
	}
	evalCmd.Flags().StringP("file", "f", "", "Layer document (.json, .yaml)")
	evalCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	_ = evalCmd.MarkFlagRequired("file")
	cli.Root().AddCommand(evalCmd)

	// legacy subcommand: convert between layer and legacy layer documents
	legacyCmd := &cobra.Command{
		Use:   "legacy",
		Short: "Convert layers to legacy layers (--reverse for the other direction)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			file, _ := cmd.Flags().GetString("file")
			reverse, _ := cmd.Flags().GetBool("reverse")
			useYAML, _ := cmd.Flags().GetBool("yaml")

			if reverse {
				legacy, err := readLegacyLayers(file)
				exitOnError(err)
				exitOnError(writeOutput(compat.ConvertLegacyLayers(legacy), useYAML))
				return
			}
			layers, err := readLayers(file)
			exitOnError(err)
			exitOnError(writeOutput(compat.ConvertLayers(layers), useYAML))
		}),
	}
	legacyCmd.Flags().StringP("file", "f", "", "Layer document (.json, .yaml)")
	legacyCmd.Flags().BoolP("reverse", "r", false, "Read legacy layers and write layers")
	legacyCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	_ = legacyCmd.MarkFlagRequired("file")
	cli.Root().AddCommand(legacyCmd)

	// guess subcommand: print the data type for a url
	guessCmd := &cobra.Command{
		Use:   "guess <url>",
		Short: "Guess the data type of a url from its extension",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			t := data.GuessType(args[0])
			if t == "" {
				fmt.Fprintf(os.Stderr, "Unknown data type for %s\n", args[0])
				os.Exit(1)
			}
			fmt.Println(t)
		},
	}
	cli.Root().AddCommand(guessCmd)

	cli.Run()
}
