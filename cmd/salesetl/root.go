package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"salesetl/internal/auth"
	"salesetl/internal/config"
	"salesetl/internal/metrics"
	"salesetl/internal/metrics/datadog"
	"salesetl/internal/metrics/prompush"
	"salesetl/internal/pipeline"
	"salesetl/internal/storage"
)

// credentialEnv holds the API key or bearer token when --credential is unset.
const credentialEnv = "SALESETL_CREDENTIAL"

var (
	cfgPath    string
	credential string
	verbose    bool

	// cfg is loaded once per invocation by the root pre-run hook.
	cfg config.Pipeline
)

var rootCmd = &cobra.Command{
	Use:           "salesetl",
	Short:         "Load retail sales extracts into a star-schema warehouse",
	Long:          "salesetl validates and loads retail sales CSV extracts into a star-schema warehouse (SCD2 dimensions, fact_sales), tracks every run and scores the loaded data.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		p, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = p
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "pipeline config file (yaml, json or toml); SALESETL_* env vars override it")
	pf.StringVar(&credential, "credential", "", "API key or bearer token (default $"+credentialEnv+")")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logs")

	rootCmd.AddCommand(ingestCmd, qualityCmd, runsCmd, configCmd)
}

// session is what every warehouse command works against.
type session struct {
	ctx   context.Context
	store storage.Store
	id    auth.Identity
}

// openSession lints the config, installs the metrics backend, resolves the
// caller identity and opens the warehouse. close releases all of it.
func openSession(cmd *cobra.Command) (s *session, closeFn func(), err error) {
	if err := checkConfig(cmd.ErrOrStderr(), cfg); err != nil {
		return nil, nil, err
	}
	id, err := resolveIdentity(cfg, credential)
	if err != nil {
		return nil, nil, err
	}
	flush := setupMetrics(cfg)

	ctx := auth.WithIdentity(cmd.Context(), id)
	st, err := storage.New(ctx, storage.Config{
		Kind:     cfg.Storage.Kind,
		DSN:      cfg.Storage.DB.DSN,
		MaxConns: cfg.Storage.DB.MaxConns,
	})
	if err != nil {
		flush()
		return nil, nil, fmt.Errorf("open storage %s: %w", cfg.Storage.Kind, err)
	}
	if cfg.Storage.DB.AutoCreateSchema {
		if err := pipeline.Bootstrap(ctx, cfg, st); err != nil {
			st.Close()
			flush()
			return nil, nil, err
		}
	}
	if verbose {
		log.Printf("salesetl: storage=%s subject=%s role=%s", cfg.Storage.Kind, id.Subject, id.Role)
	}
	return &session{ctx: ctx, store: st, id: id}, func() {
		st.Close()
		flush()
	}, nil
}

// checkConfig prints lint issues to w and fails when any is an error.
func checkConfig(w io.Writer, p config.Pipeline) error {
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return errors.New("configuration is invalid")
	}
	return nil
}

// resolveIdentity turns the credential (flag, then env) into an identity.
// Without any configured credentials the local operator runs as the system
// identity; once keys or a JWT secret are configured a credential is
// mandatory.
func resolveIdentity(p config.Pipeline, cred string) (auth.Identity, error) {
	if cred == "" {
		cred = os.Getenv(credentialEnv)
	}
	if cred == "" {
		if len(p.Auth.APIKeys) == 0 && p.Auth.JWTSecret == "" {
			return auth.System(), nil
		}
		return auth.Identity{}, fmt.Errorf("%w: pass --credential or set %s", auth.ErrUnauthenticated, credentialEnv)
	}
	return auth.NewAuthenticator(p.Auth).Resolve(cred)
}

// setupMetrics installs the configured backend and returns its flush hook.
func setupMetrics(p config.Pipeline) func() {
	jobName := p.Job
	if jobName == "" {
		jobName = "salesetl"
	}

	var (
		b   metrics.Backend
		err error
	)
	switch p.Metrics.Backend {
	case "pushgateway":
		b, err = prompush.NewBackend(jobName, p.Metrics.URL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       p.Metrics.DatadogAddr,
			Namespace:  "salesetl.",
			GlobalTags: []string{"job:" + jobName},
		})
	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", p.Metrics.Backend)
		}
		return func() {}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", p.Metrics.Backend)
		return func() {}
	}
	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", p.Metrics.Backend, err)
		return func() {}
	}

	log.Printf("metrics: backend=%s job_name=%s", p.Metrics.Backend, jobName)
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}
