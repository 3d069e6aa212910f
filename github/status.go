package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v58/github"
	"github.com/rs/zerolog"

	"github.com/imranansari/heroku-deploy-action/config"
)

// StatusReporter mirrors deploy progress onto a GitHub deployment so the
// commit's checks page shows the Heroku outcome. All reporting is best
// effort: a GitHub hiccup never fails the deploy.
type StatusReporter struct {
	client      *github.Client
	owner       string
	repo        string
	environment string
	logger      zerolog.Logger

	deploymentID int64
}

// NewStatusReporter authenticates as a GitHub App installation and
// prepares a reporter for the configured repository
func NewStatusReporter(cfg config.GitHubConfig, privateKey []byte, environment string, logger zerolog.Logger) (*StatusReporter, error) {
	owner, repo, err := splitRepository(cfg.Repository)
	if err != nil {
		return nil, err
	}

	itr, err := ghinstallation.New(http.DefaultTransport, cfg.AppID, cfg.InstallationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create installation transport: %w", err)
	}

	logger.Info().
		Int64("app_id", cfg.AppID).
		Int64("installation_id", cfg.InstallationID).
		Str("repository", cfg.Repository).
		Msg("GitHub installation client created")

	return &StatusReporter{
		client:      github.NewClient(&http.Client{Transport: itr}),
		owner:       owner,
		repo:        repo,
		environment: environment,
		logger:      logger,
	}, nil
}

// DeployStarted creates a GitHub deployment for the commit and marks it
// in_progress
func (r *StatusReporter) DeployStarted(ctx context.Context, commitSHA string) {
	deploymentRequest := &github.DeploymentRequest{
		Ref:                   github.String(commitSHA),
		Task:                  github.String("deploy"),
		Environment:           github.String(r.environment),
		Description:           github.String("Heroku deploy"),
		RequiredContexts:      &[]string{}, // Skip status checks for external deployments
		AutoMerge:             github.Bool(false),
		ProductionEnvironment: github.Bool(r.environment == "production"),
	}

	deployment, _, err := r.client.Repositories.CreateDeployment(ctx, r.owner, r.repo, deploymentRequest)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to create GitHub deployment")
		return
	}
	r.deploymentID = deployment.GetID()

	r.postStatus(ctx, "in_progress", "Heroku build submitted")
}

// DeployFinished records the terminal deploy outcome on the GitHub
// deployment created by DeployStarted
func (r *StatusReporter) DeployFinished(ctx context.Context, succeeded bool, description string) {
	if r.deploymentID == 0 {
		return
	}
	state := "failure"
	if succeeded {
		state = "success"
	}
	r.postStatus(ctx, state, description)
}

func (r *StatusReporter) postStatus(ctx context.Context, state string, description string) {
	statusRequest := &github.DeploymentStatusRequest{
		State:        github.String(state),
		Description:  github.String(truncateDescription(description, 140)),
		AutoInactive: github.Bool(true), // Automatically mark previous deployments as inactive
	}

	_, _, err := r.client.Repositories.CreateDeploymentStatus(ctx, r.owner, r.repo, r.deploymentID, statusRequest)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("state", state).
			Msg("Failed to update GitHub deployment status")
		return
	}

	r.logger.Info().
		Int64("deployment_id", r.deploymentID).
		Str("state", state).
		Msg("GitHub deployment status updated")
}

func splitRepository(repository string) (owner string, repo string, err error) {
	parts := strings.SplitN(repository, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository %q is not in owner/name form", repository)
	}
	return parts[0], parts[1], nil
}

// truncateDescription keeps deployment status descriptions inside
// GitHub's 140 character limit
func truncateDescription(description string, maxLength int) string {
	if len(description) <= maxLength {
		return description
	}
	return description[:maxLength-3] + "..."
}
