package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rohmanhakim/storefront-ssr/internal/build"
	"github.com/rohmanhakim/storefront-ssr/internal/config"
	"github.com/rohmanhakim/storefront-ssr/internal/logging"
	"github.com/rohmanhakim/storefront-ssr/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable the server reads, e.g.
// SSR_CACHE_MAX_AGE for --cache-max-age.
const EnvPrefix = "SSR"

const (
	keyConfigFile      = "config-file"
	keyProduction      = "production"
	keyNodeEnv         = "node-env"
	keyPort            = "port"
	keyBase            = "base"
	keyShutdownTimeout = "shutdown-timeout"
	keyCacheMaxEntries = "cache-max-entries"
	keyCacheMaxAge     = "cache-max-age"
	keyRedisAddr       = "redis-addr"
	keyRedisPassword   = "redis-password"
	keyRedisDB         = "redis-db"
	keyRedisPrefix     = "redis-prefix"
	keyRenderTimeout   = "render-timeout"
	keyTemplate        = "template"
	keyClientDir       = "client-dir"
	keyServerBundle    = "server-bundle"
	keyEngine          = "engine"
	keyRendererURL     = "renderer-url"
	keyDevScript       = "dev-script"
	keyMaxAttempt      = "max-attempt"
	keyBackoffInitial  = "backoff-initial"
	keyBackoffMult     = "backoff-multiplier"
	keyBackoffMax      = "backoff-max"
	keyJitter          = "jitter"
	keyRandomSeed      = "random-seed"
	keyLogLevel        = "log-level"
	keyLogFormat       = "log-format"
)

// NewRootCommand assembles the storefront-ssr command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storefront-ssr",
		Short: "A multi-tenant server-side rendering server for storefronts.",
		Long: `storefront-ssr renders storefront pages on the server and streams them
to the browser. The tenant is taken from the request subdomain, rendered
documents are cached per tenant and path in production, and renders that
do not produce a shell in time are answered with 503.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(NewServeCommand(), NewVersionCommand())
	return rootCmd
}

// NewServeCommand returns the command that runs the HTTP server.
func NewServeCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the rendering server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := NewViper(cmd)
			if err != nil {
				return err
			}
			cfg, err := InitConfigWithError(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	d := config.WithDefault()
	flags := serveCmd.Flags()
	flags.String(keyConfigFile, "", "config file path (e.g., /etc/storefront-ssr/config.json)")
	flags.Bool(keyProduction, d.Production(), "serve the built client and enable the page cache (also NODE_ENV=production)")
	flags.Int(keyPort, d.Port(), "port to listen on (also PORT)")
	flags.String(keyBase, d.Base(), "base path the app is mounted under (also BASE)")
	flags.Duration(keyShutdownTimeout, d.ShutdownTimeout(), "grace period for in-flight requests on shutdown")
	flags.Int(keyCacheMaxEntries, d.CacheMaxEntries(), "maximum number of cached pages held in memory")
	flags.Duration(keyCacheMaxAge, d.CacheMaxAge(), "how long a cached page stays valid")
	flags.String(keyRedisAddr, d.RedisAddr(), "Redis address for a shared page cache (empty keeps it in memory)")
	flags.String(keyRedisPassword, d.RedisPassword(), "Redis password")
	flags.Int(keyRedisDB, d.RedisDB(), "Redis database number")
	flags.String(keyRedisPrefix, d.RedisPrefix(), "prefix for page cache keys in Redis")
	flags.Duration(keyRenderTimeout, d.RenderTimeout(), "maximum wait for the render shell before answering 503")
	flags.String(keyTemplate, "", "HTML template containing <!--app-html--> (defaults by mode)")
	flags.String(keyClientDir, d.ClientDir(), "client build output served as static files in production")
	flags.String(keyServerBundle, d.ServerBundle(), "server bundle exposing render(url, tenant)")
	flags.String(keyEngine, string(d.Engine()), "render engine: bundle or remote")
	flags.String(keyRendererURL, d.RendererURL(), "render sidecar endpoint for the remote engine")
	flags.StringSlice(keyDevScript, d.DevScripts(), "script sources injected into <head> in development (can be repeated)")
	flags.Int(keyMaxAttempt, d.MaxAttempt(), "maximum attempts when connecting to Redis at startup")
	flags.Duration(keyBackoffInitial, d.BackoffInitialDuration(), "initial delay between startup attempts")
	flags.Float64(keyBackoffMult, d.BackoffMultiplier(), "multiplier applied to the delay after each attempt")
	flags.Duration(keyBackoffMax, d.BackoffMaxDuration(), "maximum delay between startup attempts")
	flags.Duration(keyJitter, d.Jitter(), "random jitter added to each delay")
	flags.Int64(keyRandomSeed, d.RandomSeed(), "seed for jitter (0 for current time)")
	flags.String(keyLogLevel, d.LogLevel(), "log level: trace, debug, info, warn, error")
	flags.String(keyLogFormat, d.LogFormat(), "log format: json or console")
	return serveCmd
}

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.String())
		},
	}
}

// NewViper layers the command's flags over SSR_* environment variables.
// PORT, BASE and NODE_ENV are honored for compatibility with common hosting
// platforms; the SSR_ variants win when both are set.
func NewViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}
	bindings := [][]string{
		{keyPort, EnvPrefix + "_PORT", "PORT"},
		{keyBase, EnvPrefix + "_BASE", "BASE"},
		{keyNodeEnv, "NODE_ENV"},
	}
	for _, b := range bindings {
		if err := v.BindEnv(b...); err != nil {
			return nil, fmt.Errorf("error binding env %s: %w", b[0], err)
		}
	}
	return v, nil
}

// InitConfigWithError builds the server config. A config file, when given,
// is used as-is; otherwise flags and environment variables are applied over
// the defaults. Only explicitly provided values override a default.
func InitConfigWithError(v *viper.Viper) (config.Config, error) {
	if path := v.GetString(keyConfigFile); path != "" {
		cfg, err := config.WithConfigFile(path)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
		return cfg, nil
	}

	builder := config.WithDefault().
		WithProduction(v.GetBool(keyProduction) || strings.EqualFold(v.GetString(keyNodeEnv), "production"))

	if v.IsSet(keyPort) {
		builder = builder.WithPort(v.GetInt(keyPort))
	}
	if v.IsSet(keyBase) {
		builder = builder.WithBase(v.GetString(keyBase))
	}
	if v.IsSet(keyShutdownTimeout) {
		builder = builder.WithShutdownTimeout(v.GetDuration(keyShutdownTimeout))
	}
	if v.IsSet(keyCacheMaxEntries) {
		builder = builder.WithCacheMaxEntries(v.GetInt(keyCacheMaxEntries))
	}
	if v.IsSet(keyCacheMaxAge) {
		builder = builder.WithCacheMaxAge(v.GetDuration(keyCacheMaxAge))
	}
	if v.IsSet(keyRedisAddr) {
		builder = builder.WithRedis(v.GetString(keyRedisAddr), v.GetString(keyRedisPassword), v.GetInt(keyRedisDB))
	}
	if v.IsSet(keyRedisPrefix) {
		builder = builder.WithRedisPrefix(v.GetString(keyRedisPrefix))
	}
	if v.IsSet(keyRenderTimeout) {
		builder = builder.WithRenderTimeout(v.GetDuration(keyRenderTimeout))
	}
	if v.IsSet(keyTemplate) {
		builder = builder.WithTemplatePath(v.GetString(keyTemplate))
	}
	if v.IsSet(keyClientDir) {
		builder = builder.WithClientDir(v.GetString(keyClientDir))
	}
	if v.IsSet(keyServerBundle) {
		builder = builder.WithServerBundle(v.GetString(keyServerBundle))
	}
	if v.IsSet(keyEngine) {
		builder = builder.WithEngine(config.EngineKind(v.GetString(keyEngine)))
	}
	if v.IsSet(keyRendererURL) {
		builder = builder.WithRendererURL(v.GetString(keyRendererURL))
	}
	if v.IsSet(keyDevScript) {
		builder = builder.WithDevScripts(v.GetStringSlice(keyDevScript))
	}
	if v.IsSet(keyMaxAttempt) {
		builder = builder.WithMaxAttempt(v.GetInt(keyMaxAttempt))
	}
	if v.IsSet(keyBackoffInitial) {
		builder = builder.WithBackoffInitialDuration(v.GetDuration(keyBackoffInitial))
	}
	if v.IsSet(keyBackoffMult) {
		builder = builder.WithBackoffMultiplier(v.GetFloat64(keyBackoffMult))
	}
	if v.IsSet(keyBackoffMax) {
		builder = builder.WithBackoffMaxDuration(v.GetDuration(keyBackoffMax))
	}
	if v.IsSet(keyJitter) {
		builder = builder.WithJitter(v.GetDuration(keyJitter))
	}
	if v.IsSet(keyRandomSeed) {
		builder = builder.WithRandomSeed(v.GetInt64(keyRandomSeed))
	}
	if v.IsSet(keyLogLevel) {
		builder = builder.WithLogLevel(v.GetString(keyLogLevel))
	}
	if v.IsSet(keyLogFormat) {
		builder = builder.WithLogFormat(v.GetString(keyLogFormat))
	}

	return builder.Build()
}

func serve(parent context.Context, cfg config.Config) error {
	logger, err := logging.New(os.Stderr, cfg.LogLevel(), logging.Format(cfg.LogFormat()))
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("server setup failed")
		return err
	}
	return srv.Run(ctx)
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
