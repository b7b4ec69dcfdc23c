package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datagate-io/datagate/internal/proxy"
	"github.com/datagate-io/datagate/internal/server"
)

const banner = `
 ___   _ _____ _   ___   _ _____ ___
|   \ /_\_   _/_\ / __| /_\_   _| __|
| |) / _ \| |/ _ \ (_ |/ _ \| | | _|
|___/_/ \_\_/_/ \_\___/_/ \_\_| |___|
`

func newServeCmd(version string) *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the DataGate proxy server",
		Long:  "Start the HTTP server that proxies every registered connector behind the uniform dispatch surface.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev, version)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides config)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool, version string) error {
	fmt.Print(banner)
	fmt.Println()

	cfg := loadConfig()
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logLevel := slog.LevelInfo
	if dev || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	var logger *slog.Logger
	if cfg.Logging.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	// The vault key is non-negotiable: refuse to start without it rather
	// than failing on the first dispatch.
	v, err := openVault()
	if err != nil {
		return err
	}

	dir := cfg.Registry.DataDir
	if dataDir != "" {
		dir = dataDir
	}
	store, err := openStoreAt(dir)
	if err != nil {
		return fmt.Errorf("init registry store: %w", err)
	}
	defer store.Close()
	logger.Info("registry store initialized", "path", dir)

	adapters, err := newAdapterSet()
	if err != nil {
		return fmt.Errorf("init adapters: %w", err)
	}
	logger.Info("adapters initialized", "families", adapters.Types())

	ports, err := typePorts(cfg.Server.Listeners)
	if err != nil {
		return err
	}

	authSvc := mustAuth(store, cfg)
	rewriter := newRewriter(cfg)

	publicHost := cfg.Normalizer.PublicHost
	if publicHost == "" {
		publicHost = cfg.Server.Host
	}
	publicPort := cfg.Normalizer.PublicPort
	if publicPort == 0 {
		publicPort = cfg.Server.Port
	}
	dispatcher := proxy.NewDispatcher(
		proxy.DispatcherConfig{ProxyHost: publicHost, ProxyPort: publicPort, TypePorts: ports},
		store, v, authSvc, adapters, rewriter, logger,
	)

	hasAdmin, err := store.HasAnyAdmin(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: datagate admin create")
	}

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil || shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     cfg.Server.CORS.Origins,
		RateLimitPerMin: 600,
		Listeners:       ports,
		Version:         version,
	}
	srv := server.New(srvCfg, store, v, authSvc, dispatcher, logger)

	fmt.Printf("→ DataGate\n")
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Info:       http://%s:%d/info\n", cfg.Server.Host, cfg.Server.Port)
	for family, p := range ports {
		fmt.Printf("→ Dedicated:  http://%s:%d (%s)\n", cfg.Server.Host, p, family)
	}
	fmt.Println()

	return srv.ListenAndServe()
}
