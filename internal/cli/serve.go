package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/reconcile/internal/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve exposes the pipeline over HTTP:

  GET  /health               provider status
  POST /upload               {"image_base64": ...} -> recovered receipt
  POST /submit               receipt JSON -> CSV store
  POST /parse                raw model text -> recovered receipt
  GET  /receipts             stored receipts
  GET  /receipts/{file}      header.csv or line.csv
  GET  /raw_response[/{id}]  raw model output by request ID
  GET  /view_raw/{id}        raw model output as HTML
  GET  /metrics              Prometheus metrics

Example:
  reconcile serve
  reconcile serve --addr :9000 --provider mistral`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default: server.addr)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv := server.New(p, cfg.Server, cfg.Limits.MaxImageBytes, log)
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}
