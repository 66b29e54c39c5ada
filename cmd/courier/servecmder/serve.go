package servecmder

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/driftline/courier/devserver"
	"github.com/driftline/courier/pkg/config"
	"github.com/driftline/courier/pkg/logger"
)

const serveLongDesc string = `Run the local dev backend.

The dev backend implements the courier API for local development:
streaming chat replies as server-sent events, accepting queued tasks,
and serving the authoritative request history from a SQLite database.

Examples:
  courier serve
  courier serve --listen :7000 --db ~/.courier/history.db`

const serveShortDesc string = "Run the local dev backend"

type serveCommander struct {
	listen      string
	dbPath      string
	streamDelay time.Duration
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on")
	cmd.Flags().StringVar(&cmder.dbPath, "db", "", "Path to SQLite database (default: in-memory)")
	cmd.Flags().DurationVar(&cmder.streamDelay, "stream-delay", 25*time.Millisecond, "Pause between streamed tokens")

	return cmd
}

func (c *serveCommander) run(cmd *cobra.Command) error {
	debug, _ := cmd.Flags().GetBool("debug")
	configPath, _ := cmd.Flags().GetString("config")

	log := logger.NewLogger(debug)
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	listen := cfg.Server.Listen
	if c.listen != "" {
		listen = c.listen
	}
	dbPath := cfg.Server.DBPath
	if c.dbPath != "" {
		dbPath = c.dbPath
	}

	log.Info("courier dev backend starting",
		zap.String("listen", listen),
		zap.Bool("debug", debug),
	)

	srv, err := devserver.New(devserver.Config{
		ListenAddr:  listen,
		DBPath:      dbPath,
		StreamDelay: c.streamDelay,
	}, log)
	if err != nil {
		log.Error("failed to create dev backend", zap.Error(err))
		return err
	}
	defer srv.Close()

	return srv.Run()
}
