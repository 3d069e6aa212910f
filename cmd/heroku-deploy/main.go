package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/imranansari/heroku-deploy-action/config"
	"github.com/imranansari/heroku-deploy-action/deploy"
	"github.com/imranansari/heroku-deploy-action/gha"
	githubint "github.com/imranansari/heroku-deploy-action/github"
	"github.com/imranansari/heroku-deploy-action/heroku"
	"github.com/imranansari/heroku-deploy-action/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var overrides config.Overrides

	cmd := &cobra.Command{
		Use:           "heroku-deploy",
		Short:         "Deploy a commit to a Heroku app and wait for the build to finish",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDeploy(cmd.Context(), overrides)
		},
	}

	cmd.Flags().StringVarP(&overrides.App, "app", "a", "", "Name of Heroku app. For example 'my-example-heroku-app'")
	cmd.Flags().StringVarP(&overrides.APIKey, "api-key", "K", "", "Heroku API Key")
	cmd.Flags().StringVarP(&overrides.CommitHash, "commit-hash", "c", "", "Commit hash. For example '59d2e89c36774ee3775050a437c290a6c1afb3db'")
	cmd.Flags().BoolVar(&overrides.DryRun, "dry-run", false, "If set, skip deployment to Heroku")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return deploy.ExitCode(err)
	}
	return deploy.ExitSuccess
}

func runDeploy(ctx context.Context, overrides config.Overrides) error {
	cfg, err := config.Load(overrides)
	if err != nil {
		return &deploy.ConfigurationError{Reason: err.Error()}
	}

	logging.InitLogger(cfg.Log.Level, cfg.Log.Format)

	runID := uuid.NewString()
	logger := logging.DeployLogger(runID, cfg.Heroku.App)
	logger.Info().Msg("Heroku app name: " + cfg.Heroku.App)

	sourceURL, sourceErr := cfg.SourceURL()
	if sourceErr != nil {
		// Only forward deploys need the archive; redeploy and rollback
		// reuse slugs the platform already holds
		logger.Warn().Err(sourceErr).Msg("No source archive URL available")
	}

	deploymentType := config.DeploymentTypeForward
	if cfg.GitHub.EventPath != "" {
		dt, err := githubint.ReadDeploymentType(cfg.GitHub.EventPath)
		if err != nil {
			logger.Warn().Err(err).Msg("Could not read deployment type from event payload, deploying forward")
		} else {
			deploymentType = dt
		}
	}

	client := heroku.NewClient(cfg.Heroku.BaseURL, cfg.Heroku.APIKey, logging.HerokuLogger())

	var reporter deploy.StatusReporter
	if cfg.StatusReportingEnabled() {
		key, err := cfg.GitHubPrivateKey()
		if err != nil {
			logger.Warn().Err(err).Msg("GitHub status reporting disabled: private key unreadable")
		} else if r, err := githubint.NewStatusReporter(cfg.GitHub, key, cfg.GitHub.Environment, logging.GitHubLogger()); err != nil {
			logger.Warn().Err(err).Msg("GitHub status reporting disabled")
		} else {
			reporter = r
		}
	}

	orchestrator := deploy.NewOrchestrator(client, deploy.Options{
		Retry: deploy.RetryPolicy{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialBackoff:    cfg.Retry.InitialBackoff,
			MaxBackoff:        cfg.Retry.MaxBackoff,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		},
		Poll: deploy.PollPolicy{
			Interval: cfg.Poll.Interval,
			Timeout:  cfg.Poll.Timeout,
		},
		Reporter: reporter,
		Logger:   logger,
	})

	result, err := orchestrator.Deploy(ctx, deploy.Request{
		App:        cfg.Heroku.App,
		CommitHash: cfg.Heroku.CommitHash,
		SourceURL:  sourceURL,
		Type:       deploymentType,
		DryRun:     cfg.Heroku.DryRun,
	})
	if err != nil {
		return err
	}

	logger.Info().Msg(result.Message)

	if result.ReleaseVersion > 0 {
		if err := gha.SetOutput("release_version", strconv.Itoa(result.ReleaseVersion)); err != nil {
			logger.Warn().Err(err).Msg("Failed to record the release_version output")
		}
	}
	return nil
}
