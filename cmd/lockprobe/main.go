/*
Lock Probe

2024 © Postgres.ai

Predicts the relation locks a PostgreSQL statement acquires.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/logrusorgru/aurora/v3"
	"github.com/pkg/errors"

	"gitlab.com/postgres-ai/database-lab/v2/pkg/log"

	"gitlab.com/postgres-ai/lockprobe/pkg/client"
	"gitlab.com/postgres-ai/lockprobe/pkg/config"
	"gitlab.com/postgres-ai/lockprobe/pkg/explain"
	"gitlab.com/postgres-ai/lockprobe/pkg/foreword"
	"gitlab.com/postgres-ai/lockprobe/pkg/models"
	"gitlab.com/postgres-ai/lockprobe/pkg/probe"
	"gitlab.com/postgres-ai/lockprobe/pkg/report"
	"gitlab.com/postgres-ai/lockprobe/pkg/server"
	"gitlab.com/postgres-ai/lockprobe/pkg/session"
	"gitlab.com/postgres-ai/lockprobe/pkg/util/db"
)

const (
	shutdownTimeout = 60 * time.Second
	connectTimeout  = 30 * time.Second
	requestTimeout  = 5 * time.Minute

	configFilePath = "config/config.yml"

	serverURLEnv = "LOCKPROBE_SERVER_URL"
	secretEnv    = "LOCKPROBE_VERIFICATION_SECRET"
)

// ldflag variables.
var buildTime, version string

func main() {
	command, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	var err error

	switch command {
	case "serve":
		err = serve(args)

	case "query":
		err = query(args)

	case "explain":
		err = explainMode(args)

	default:
		err = errors.Errorf("unknown command %q, available commands: serve, query, explain", command)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, aurora.Red("lockprobe:"), err.Error())
		os.Exit(1)
	}
}

func serve(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", configFilePath, "path to the configuration file")

	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	log.SetDebug(cfg.App.Debug)
	cfg.App.Version = formatVersion()

	log.Dbg("version: ", cfg.App.Version)

	catalog, err := loadCatalog(cfg.App.Explanations)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownCh := setShutdownListener()

	connectCtx, connectCancel := context.WithTimeout(ctx, connectTimeout)
	defer connectCancel()

	pool, err := session.OpenPool(connectCtx, cfg.Database.ConnectionString(), int(cfg.Probe.Pairs))
	if err != nil {
		return errors.Wrap(err, "failed to open session pairs")
	}

	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()

		if err := pool.Close(closeCtx); err != nil {
			log.Err("failed to close session pairs: ", err)
		}
	}()

	activityQuerySize, err := greet(connectCtx, cfg, pool)
	if err != nil {
		return err
	}

	engine := probe.NewEngine(pool, probe.Config{
		StatementTimeout: cfg.Probe.StatementTimeout,
		LockTimeout:      cfg.Probe.LockTimeout,
		RoundTripTimeout: cfg.Probe.RoundTripTimeout,
		TagStatements:    cfg.Probe.TagStatements,

		ActivityQuerySize: activityQuerySize,
	})

	app := server.NewApp(cfg.App, engine, catalog, pool.Size())

	go setSighupListener(ctx, pool)

	serverErr := make(chan error, 1)

	go func() {
		serverErr <- app.RunServer(ctx)
	}()

	select {
	case err := <-serverErr:
		return err

	case <-shutdownCh:
		log.Dbg("shutdown request received")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Msg(err)
	}

	return nil
}

// greet checks the server, logs the startup message and returns track_activity_query_size.
func greet(ctx context.Context, cfg *config.Config, pool *session.Pool) (int, error) {
	content := &foreword.Content{
		AppVersion:       cfg.App.Version,
		DBName:           cfg.Database.DBName,
		Pairs:            pool.Size(),
		StatementTimeout: cfg.Probe.StatementTimeout,
		LockTimeout:      cfg.Probe.LockTimeout,
	}

	var activityQuerySize int

	err := pool.Do(ctx, func(_, inspector session.Session) error {
		if err := db.CheckSupported(ctx, inspector); err != nil {
			return err
		}

		size, err := db.GetActivityQuerySize(ctx, inspector)
		if err != nil {
			return err
		}

		activityQuerySize = size

		if err := content.EnrichForewordInfo(ctx, inspector); err != nil {
			log.Err(err)
		}

		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to check the database server")
	}

	log.Msg(content.GetForeword())

	if !cfg.Probe.TagStatements {
		log.Msg(fmt.Sprintf("Untagged statements must be shorter than %d bytes (track_activity_query_size)",
			activityQuerySize))
	}

	return activityQuerySize, nil
}

func query(args []string) error {
	flags := flag.NewFlagSet("query", flag.ExitOnError)
	queryText := flags.String("query", "", "statement to analyze, or @file to read it from a file")
	schema := flags.String("schema", "", "show locks on relations of this schema only")
	relation := flags.String("relation", "", "show locks on this relation only")
	serverURL := flags.String("server", envOrDefault(serverURLEnv, client.DefaultURL), "lock probe server URL")
	format := flags.String("format", "table", "output format: table or text")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if *queryText == "" {
		return errors.New("query is not specified")
	}

	statement, err := client.ResolveQuery(*queryText)
	if err != nil {
		return err
	}

	probeClient, err := client.NewClient(client.Options{
		URL:                *serverURL,
		VerificationSecret: os.Getenv(secretEnv),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	start := time.Now()

	records, err := probeClient.Analyze(ctx, models.AnalysisRequest{
		Query:    statement,
		Schema:   optional(*schema),
		Relation: optional(*relation),
	})
	if err != nil {
		return err
	}

	switch *format {
	case "text":
		report.RenderSentences(os.Stdout, records)

	default:
		report.RenderRecords(os.Stdout, records)
	}

	fmt.Println(aurora.Green(report.Summary(len(records), time.Since(start))))

	return nil
}

func explainMode(args []string) error {
	flags := flag.NewFlagSet("explain", flag.ExitOnError)
	catalogPath := flags.String("catalog", "", "path to a lock mode catalog overriding the built-in one")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() == 0 {
		return errors.New("lock mode is not specified")
	}

	catalog, err := loadCatalog(*catalogPath)
	if err != nil {
		return err
	}

	explanation, err := catalog.Explain(flags.Arg(0))
	if err != nil {
		return err
	}

	return explain.Render(os.Stdout, explanation)
}

func loadConfig(configPath string) (*config.Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		log.Dbg("config file not found, reading environment variables: ", configPath)

		return config.LoadEnv()
	}

	return config.Load(configPath)
}

func loadCatalog(path string) (*explain.Catalog, error) {
	if path == "" {
		return explain.Default(), nil
	}

	catalog, err := explain.LoadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load the lock mode catalog")
	}

	return catalog, nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}

	return pointer.ToString(value)
}

func envOrDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}

	return defaultValue
}

func formatVersion() string {
	return version + "-" + buildTime
}

func setShutdownListener() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	return c
}

// setSighupListener checks the session pairs on demand.
func setSighupListener(ctx context.Context, pool *session.Pool) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c:
			if err := pool.Ping(ctx); err != nil {
				log.Err("session pairs are unhealthy: ", err)
				continue
			}

			log.Msg("session pairs are healthy")
		}
	}
}
