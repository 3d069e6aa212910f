package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/imranansari/heroku-deploy-action/config"
	"github.com/imranansari/heroku-deploy-action/heroku"
)

// PlatformClient is the slice of the platform API the deploy sequence uses
type PlatformClient interface {
	CreateBuild(ctx context.Context, app string, blob heroku.SourceBlob) (*heroku.Build, error)
	GetBuild(ctx context.Context, app string, id string) (*heroku.Build, error)
	ListReleases(ctx context.Context, app string) ([]heroku.Release, error)
	GetRelease(ctx context.Context, app string, identity string) (*heroku.Release, error)
	CreateRelease(ctx context.Context, app string, slugID string, description string) (*heroku.Release, error)
	GetSlug(ctx context.Context, app string, id string) (*heroku.Slug, error)
}

// StatusReporter receives deploy progress notifications. Reporting is
// best effort and never changes the deploy outcome.
type StatusReporter interface {
	DeployStarted(ctx context.Context, commitSHA string)
	DeployFinished(ctx context.Context, succeeded bool, description string)
}

// Request describes one deploy. Immutable once constructed.
type Request struct {
	App        string
	CommitHash string
	SourceURL  string
	Type       string
	DryRun     bool
}

// Result is the terminal outcome of one deploy
type Result struct {
	ReleaseVersion int
	Status         heroku.ReleaseStatus
	Message        string
}

// Options configures an Orchestrator
type Options struct {
	Retry    RetryPolicy
	Poll     PollPolicy
	Clock    Clock          // defaults to SystemClock
	Reporter StatusReporter // optional
	Logger   zerolog.Logger
}

// Orchestrator drives the deploy sequence: submit a build referencing the
// commit's source archive, poll until terminal, verify the release
type Orchestrator struct {
	client   PlatformClient
	retry    RetryPolicy
	poll     PollPolicy
	clock    Clock
	reporter StatusReporter
	logger   zerolog.Logger
}

// NewOrchestrator creates an orchestrator for the given platform client
func NewOrchestrator(client PlatformClient, opts Options) *Orchestrator {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Orchestrator{
		client:   client,
		retry:    opts.Retry,
		poll:     opts.Poll,
		clock:    clock,
		reporter: opts.Reporter,
		logger:   opts.Logger,
	}
}

// Deploy runs the full sequence and returns the terminal result. Every
// returned error belongs to the exit-code taxonomy in errors.go.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*Result, error) {
	if req.App == "" {
		return nil, &ConfigurationError{Reason: "app name is empty"}
	}
	if req.CommitHash == "" {
		return nil, &ConfigurationError{Reason: "commit hash is empty"}
	}
	if req.Type == "" {
		req.Type = config.DeploymentTypeForward
	}
	if !config.IsValidDeploymentType(req.Type) {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown deployment type %q", req.Type)}
	}

	o.logger.Info().
		Str("commit", req.CommitHash).
		Str("deployment_type", req.Type).
		Bool("dry_run", req.DryRun).
		Msg("Starting deploy")

	if o.reporter != nil {
		o.reporter.DeployStarted(ctx, req.CommitHash)
	}

	result, err := o.run(ctx, req)

	if o.reporter != nil {
		description := "deploy succeeded"
		if result != nil && result.Message != "" {
			description = result.Message
		}
		if err != nil {
			description = err.Error()
		}
		o.reporter.DeployFinished(ctx, err == nil, description)
	}

	return result, err
}

func (o *Orchestrator) run(ctx context.Context, req Request) (*Result, error) {
	if req.DryRun {
		o.logger.Info().
			Str("source_url", redactURL(req.SourceURL)).
			Str("commit", req.CommitHash).
			Msg("Dry run: build not submitted")
		return &Result{Message: "dry run: build not submitted"}, nil
	}

	switch req.Type {
	case config.DeploymentTypeRedeploy:
		return o.redeploy(ctx, req)
	case config.DeploymentTypeRollback:
		return o.rollback(ctx, req)
	default:
		return o.forward(ctx, req)
	}
}

// forward submits a fresh build of the commit's source archive
func (o *Orchestrator) forward(ctx context.Context, req Request) (*Result, error) {
	if req.SourceURL == "" {
		return nil, &ConfigurationError{Reason: "no source archive URL for the commit"}
	}

	// Progress log only; a missing history must not block a first deploy
	if releases, err := o.client.ListReleases(ctx, req.App); err == nil && len(releases) > 0 {
		o.logger.Info().Int("version", releases[0].Version).Msg("Current release version")
	}

	blob := heroku.SourceBlob{URL: req.SourceURL, Version: req.CommitHash}

	var build *heroku.Build
	err := o.retry.Do(ctx, o.clock, func() error {
		b, createErr := o.client.CreateBuild(ctx, req.App, blob)
		if createErr == nil {
			build = b
		}
		return createErr
	}, heroku.IsTransient)
	if err != nil {
		return nil, o.classify("build creation", err)
	}

	final, err := o.waitForBuild(ctx, req.App, build.ID)
	if err != nil {
		return nil, err
	}
	if final.Status == heroku.BuildStatusFailed {
		return nil, &RemoteBuildFailure{Reason: buildFailureReason(final)}
	}

	// The release is created by the platform once the build succeeds.
	// Its identity rides on the build response when already known.
	if final.Release != nil {
		return o.finishRelease(ctx, req, final.Release.ID)
	}

	releases, err := o.client.ListReleases(ctx, req.App)
	if err != nil || len(releases) == 0 {
		o.logger.Warn().Err(err).Msg("Build succeeded but the new release version could not be read")
		return &Result{
			Status:  heroku.ReleaseStatusSucceeded,
			Message: fmt.Sprintf("deployed commit %s", shortSHA(req.CommitHash)),
		}, nil
	}
	return o.finishRelease(ctx, req, fmt.Sprintf("%d", releases[0].Version))
}

// redeploy re-runs the release phase of the live slug when it already
// holds the target commit; otherwise it falls back to a forward deploy
func (o *Orchestrator) redeploy(ctx context.Context, req Request) (*Result, error) {
	releases, err := o.client.ListReleases(ctx, req.App)
	if err != nil {
		return nil, o.classify("release lookup", err)
	}
	if len(releases) == 0 || releases[0].SlugID() == "" {
		o.logger.Info().Msg("No released slug to retry, deploying forward")
		return o.forward(ctx, req)
	}

	latest := releases[0]
	slug, err := o.client.GetSlug(ctx, req.App, latest.SlugID())
	if err != nil {
		return nil, o.classify("slug lookup", err)
	}
	if !commitMatches(slug.Commit, req.CommitHash) {
		o.logger.Info().
			Str("live_commit", slug.Commit).
			Msg("Live slug does not hold the target commit, deploying forward")
		return o.forward(ctx, req)
	}

	description := fmt.Sprintf("Retry of v%d: %s", latest.Version, latest.Description)
	return o.releaseSlug(ctx, req, slug.ID, description)
}

// rollback re-releases the slug of an earlier release holding the target
// commit. No new build happens; the platform activates the old slug.
func (o *Orchestrator) rollback(ctx context.Context, req Request) (*Result, error) {
	releases, err := o.client.ListReleases(ctx, req.App)
	if err != nil {
		return nil, o.classify("release lookup", err)
	}

	for _, rel := range releases {
		if rel.SlugID() == "" {
			continue
		}
		slug, err := o.client.GetSlug(ctx, req.App, rel.SlugID())
		if err != nil {
			return nil, o.classify("slug lookup", err)
		}
		if commitMatches(slug.Commit, req.CommitHash) {
			description := fmt.Sprintf("Rollback to v%d", rel.Version)
			return o.releaseSlug(ctx, req, slug.ID, description)
		}
	}

	return nil, &ConfigurationError{
		Reason: fmt.Sprintf("no recent release holds commit %s; cannot roll back to it", shortSHA(req.CommitHash)),
	}
}

// releaseSlug creates a release from an existing slug and waits for its
// release phase to finish
func (o *Orchestrator) releaseSlug(ctx context.Context, req Request, slugID string, description string) (*Result, error) {
	var release *heroku.Release
	err := o.retry.Do(ctx, o.clock, func() error {
		r, createErr := o.client.CreateRelease(ctx, req.App, slugID, description)
		if createErr == nil {
			release = r
		}
		return createErr
	}, heroku.IsTransient)
	if err != nil {
		return nil, o.classify("release creation", err)
	}

	return o.finishRelease(ctx, req, release.ID)
}

// waitForBuild polls a build until it reaches a terminal status
func (o *Orchestrator) waitForBuild(ctx context.Context, app string, buildID string) (*heroku.Build, error) {
	var build *heroku.Build
	err := o.poll.Wait(ctx, o.clock, func(ctx context.Context) (bool, error) {
		b, err := o.client.GetBuild(ctx, app, buildID)
		if err != nil {
			return false, o.pollError("build status poll", err)
		}
		build = b
		o.logger.Info().Str("build_id", b.ID).Str("status", string(b.Status)).Msg("Build status")
		return b.Status.IsTerminal(), nil
	})
	if errors.Is(err, ErrWaitTimeout) {
		return nil, &TimeoutError{Stage: "build", Elapsed: o.poll.Timeout}
	}
	if err != nil {
		return nil, err
	}
	return build, nil
}

// finishRelease waits for the release phase to leave pending and checks
// the terminal status
func (o *Orchestrator) finishRelease(ctx context.Context, req Request, identity string) (*Result, error) {
	var release *heroku.Release
	err := o.poll.Wait(ctx, o.clock, func(ctx context.Context) (bool, error) {
		r, err := o.client.GetRelease(ctx, req.App, identity)
		if err != nil {
			return false, o.pollError("release status poll", err)
		}
		release = r
		o.logger.Info().Int("version", r.Version).Str("status", string(r.Status)).Msg("Release status")
		return r.Status.IsTerminal(), nil
	})
	if errors.Is(err, ErrWaitTimeout) {
		return nil, &TimeoutError{Stage: "release", Elapsed: o.poll.Timeout}
	}
	if err != nil {
		return nil, err
	}

	if release.Status != heroku.ReleaseStatusSucceeded {
		return nil, &RemoteBuildFailure{
			Reason: fmt.Sprintf("release v%d finished as %q: %s; see the Heroku release logs", release.Version, release.Status, release.Description),
		}
	}

	o.logger.Info().Int("version", release.Version).Msg("New release version")
	return &Result{
		ReleaseVersion: release.Version,
		Status:         release.Status,
		Message:        fmt.Sprintf("deployed commit %s as v%d", shortSHA(req.CommitHash), release.Version),
	}, nil
}

// pollError decides whether a poll iteration's error ends the wait.
// Transient failures are logged and the poll continues; the overall
// timeout still bounds the wait.
func (o *Orchestrator) pollError(operation string, err error) error {
	if heroku.IsUnauthorized(err) {
		return &AuthenticationError{Operation: operation}
	}
	if heroku.IsTransient(err) {
		o.logger.Warn().Err(err).Str("operation", operation).Msg("Transient error while polling, will keep polling")
		return nil
	}
	return &ConfigurationError{Reason: fmt.Sprintf("%s: %v", operation, err)}
}

// classify maps a platform client error onto the exit-code taxonomy
func (o *Orchestrator) classify(operation string, err error) error {
	switch {
	case heroku.IsUnauthorized(err):
		return &AuthenticationError{Operation: operation}
	case heroku.IsTransient(err):
		return &TransientError{Operation: operation, Attempts: o.retry.MaxAttempts, Err: err}
	default:
		// Remaining 4xx responses mean the request itself is wrong
		// (unknown app, rejected source URL)
		return &ConfigurationError{Reason: fmt.Sprintf("%s: %v", operation, err)}
	}
}

func buildFailureReason(build *heroku.Build) string {
	reason := fmt.Sprintf("build %s finished as %q", build.ID, build.Status)
	if build.OutputStreamURL != "" {
		reason += "; build log: " + build.OutputStreamURL
	}
	return reason
}

// commitMatches compares a slug's commit against the target, accepting a
// short target SHA as a prefix of the full one
func commitMatches(slugCommit string, target string) bool {
	if slugCommit == "" || target == "" {
		return false
	}
	return strings.HasPrefix(slugCommit, target) || strings.HasPrefix(target, slugCommit)
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// redactURL hides embedded credentials (tokens in derived tarball URLs)
// before a URL reaches the log
func redactURL(raw string) string {
	if i := strings.Index(raw, "access_token="); i >= 0 {
		return raw[:i] + "access_token=REDACTED"
	}
	return raw
}
