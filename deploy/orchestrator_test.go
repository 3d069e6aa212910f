package deploy

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/imranansari/heroku-deploy-action/config"
	"github.com/imranansari/heroku-deploy-action/heroku"
)

const testCommit = "59d2e89c36774ee3775050a437c290a6c1afb3db"

// fakePlatform scripts platform responses per test. Error queues are
// consumed one per call; status sequences repeat their last value.
type fakePlatform struct {
	calls []string

	createBuildErrs []error
	buildStatuses   []heroku.BuildStatus
	buildStreamURL  string
	buildRelease    *heroku.ReleaseRef

	releases []heroku.Release
	listErr  error

	slugs map[string]*heroku.Slug

	createReleaseErrs   []error
	createdDescriptions []string
	getBuildErrs        []error
	releaseStatuses     []heroku.ReleaseStatus
	releaseVersion      int
	releaseDescription  string
}

func (f *fakePlatform) countCalls(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func popErr(seq *[]error) error {
	if len(*seq) == 0 {
		return nil
	}
	err := (*seq)[0]
	*seq = (*seq)[1:]
	return err
}

func nextStatus[T any](seq []T, call int, fallback T) T {
	if len(seq) == 0 {
		return fallback
	}
	if call >= len(seq) {
		return seq[len(seq)-1]
	}
	return seq[call]
}

func (f *fakePlatform) CreateBuild(_ context.Context, app string, blob heroku.SourceBlob) (*heroku.Build, error) {
	f.calls = append(f.calls, "CreateBuild")
	if err := popErr(&f.createBuildErrs); err != nil {
		return nil, err
	}
	return &heroku.Build{ID: "b-1", Status: heroku.BuildStatusPending, SourceBlob: blob}, nil
}

func (f *fakePlatform) GetBuild(_ context.Context, app string, id string) (*heroku.Build, error) {
	call := f.countCalls("GetBuild")
	f.calls = append(f.calls, "GetBuild")
	if err := popErr(&f.getBuildErrs); err != nil {
		return nil, err
	}
	status := nextStatus(f.buildStatuses, call, heroku.BuildStatusSucceeded)
	build := &heroku.Build{ID: id, Status: status, OutputStreamURL: f.buildStreamURL}
	if status == heroku.BuildStatusSucceeded {
		build.Release = f.buildRelease
	}
	return build, nil
}

func (f *fakePlatform) ListReleases(_ context.Context, app string) ([]heroku.Release, error) {
	f.calls = append(f.calls, "ListReleases")
	return f.releases, f.listErr
}

func (f *fakePlatform) GetRelease(_ context.Context, app string, identity string) (*heroku.Release, error) {
	call := f.countCalls("GetRelease")
	f.calls = append(f.calls, "GetRelease")
	status := nextStatus(f.releaseStatuses, call, heroku.ReleaseStatusSucceeded)
	return &heroku.Release{
		ID:          identity,
		Version:     f.releaseVersion,
		Status:      status,
		Description: f.releaseDescription,
	}, nil
}

func (f *fakePlatform) CreateRelease(_ context.Context, app string, slugID string, description string) (*heroku.Release, error) {
	f.calls = append(f.calls, "CreateRelease")
	if err := popErr(&f.createReleaseErrs); err != nil {
		return nil, err
	}
	f.createdDescriptions = append(f.createdDescriptions, description)
	return &heroku.Release{
		ID:      "r-new",
		Version: f.releaseVersion,
		Status:  heroku.ReleaseStatusPending,
		Slug:    &heroku.SlugRef{ID: slugID},
	}, nil
}

func (f *fakePlatform) GetSlug(_ context.Context, app string, id string) (*heroku.Slug, error) {
	f.calls = append(f.calls, "GetSlug")
	slug, ok := f.slugs[id]
	if !ok {
		return nil, &heroku.APIError{StatusCode: http.StatusNotFound, ID: "not_found"}
	}
	return slug, nil
}

type fakeReporter struct {
	startedWith  []string
	finishedOK   []bool
	descriptions []string
}

func (r *fakeReporter) DeployStarted(_ context.Context, commitSHA string) {
	r.startedWith = append(r.startedWith, commitSHA)
}

func (r *fakeReporter) DeployFinished(_ context.Context, succeeded bool, description string) {
	r.finishedOK = append(r.finishedOK, succeeded)
	r.descriptions = append(r.descriptions, description)
}

func testOptions(clock Clock) Options {
	return Options{
		Retry:  RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, BackoffMultiplier: 2.0},
		Poll:   PollPolicy{Interval: 5 * time.Second, Timeout: 10 * time.Minute},
		Clock:  clock,
		Logger: zerolog.Nop(),
	}
}

func testRequest() Request {
	return Request{
		App:        "fake-app",
		CommitHash: testCommit,
		SourceURL:  "https://example.test/src.tar.gz",
		Type:       config.DeploymentTypeForward,
	}
}

func TestDeploy_ForwardSuccess(t *testing.T) {
	platform := &fakePlatform{
		buildStatuses:   []heroku.BuildStatus{heroku.BuildStatusSucceeded},
		buildRelease:    &heroku.ReleaseRef{ID: "r-42"},
		releaseStatuses: []heroku.ReleaseStatus{heroku.ReleaseStatusSucceeded},
		releaseVersion:  42,
	}
	orch := NewOrchestrator(platform, testOptions(newFakeClock()))

	result, err := orch.Deploy(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ReleaseVersion != 42 {
		t.Errorf("expected release v42, got v%d", result.ReleaseVersion)
	}
	if ExitCode(err) != ExitSuccess {
		t.Errorf("expected exit code 0, got %d", ExitCode(err))
	}
	if !strings.Contains(result.Message, "v42") {
		t.Errorf("message should name the new version: %q", result.Message)
	}
}

func TestDeploy_AuthenticationFailureNotRetried(t *testing.T) {
	platform := &fakePlatform{
		createBuildErrs: []error{&heroku.APIError{StatusCode: http.StatusUnauthorized, ID: "unauthorized"}},
	}
	clock := newFakeClock()
	orch := NewOrchestrator(platform, testOptions(clock))

	_, err := orch.Deploy(context.Background(), testRequest())

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected an AuthenticationError, got %v", err)
	}
	if ExitCode(err) != ExitAuthentication {
		t.Errorf("expected exit code %d, got %d", ExitAuthentication, ExitCode(err))
	}
	if got := platform.countCalls("CreateBuild"); got != 1 {
		t.Errorf("auth failures must not be retried, got %d attempts", got)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("expected no backoff sleeps, got %v", clock.sleeps)
	}
}

func TestDeploy_TransientFailuresRetriedThenSucceed(t *testing.T) {
	platform := &fakePlatform{
		createBuildErrs: []error{
			&heroku.APIError{StatusCode: http.StatusServiceUnavailable},
			&heroku.APIError{StatusCode: http.StatusServiceUnavailable},
		},
		buildStatuses:   []heroku.BuildStatus{heroku.BuildStatusSucceeded},
		buildRelease:    &heroku.ReleaseRef{ID: "r-42"},
		releaseStatuses: []heroku.ReleaseStatus{heroku.ReleaseStatusSucceeded},
		releaseVersion:  42,
	}
	clock := newFakeClock()
	orch := NewOrchestrator(platform, testOptions(clock))

	result, err := orch.Deploy(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ReleaseVersion != 42 {
		t.Errorf("expected release v42, got v%d", result.ReleaseVersion)
	}
	if got := platform.countCalls("CreateBuild"); got != 3 {
		t.Errorf("expected 3 submission attempts, got %d", got)
	}
}

func TestDeploy_TransientBudgetExhausted(t *testing.T) {
	platform := &fakePlatform{
		createBuildErrs: []error{
			&heroku.APIError{StatusCode: http.StatusServiceUnavailable},
			&heroku.APIError{StatusCode: http.StatusServiceUnavailable},
			&heroku.APIError{StatusCode: http.StatusServiceUnavailable},
		},
	}
	orch := NewOrchestrator(platform, testOptions(newFakeClock()))

	_, err := orch.Deploy(context.Background(), testRequest())

	var transientErr *TransientError
	if !errors.As(err, &transientErr) {
		t.Fatalf("expected a TransientError, got %v", err)
	}
	if ExitCode(err) != ExitTransient {
		t.Errorf("expected exit code %d, got %d", ExitTransient, ExitCode(err))
	}
	if got := platform.countCalls("CreateBuild"); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

func TestDeploy_BuildStuckYieldsTimeout(t *testing.T) {
	platform := &fakePlatform{
		buildStatuses: []heroku.BuildStatus{heroku.BuildStatusBuilding},
	}
	opts := testOptions(newFakeClock())
	opts.Poll = PollPolicy{Interval: 5 * time.Second, Timeout: 12 * time.Second}
	orch := NewOrchestrator(platform, opts)

	_, err := orch.Deploy(context.Background(), testRequest())

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected a TimeoutError, got %v", err)
	}
	if ExitCode(err) != ExitTimeout {
		t.Errorf("a stuck build is a timeout, not a failure; got exit code %d", ExitCode(err))
	}
	if timeoutErr.Stage != "build" {
		t.Errorf("expected the build stage, got %q", timeoutErr.Stage)
	}
}

func TestDeploy_BuildFailureCarriesReason(t *testing.T) {
	platform := &fakePlatform{
		buildStatuses: []heroku.BuildStatus{
			heroku.BuildStatusPending,
			heroku.BuildStatusBuilding,
			heroku.BuildStatusFailed,
		},
		buildStreamURL: "https://busl.test/streams/b-1.log",
	}
	orch := NewOrchestrator(platform, testOptions(newFakeClock()))

	_, err := orch.Deploy(context.Background(), testRequest())

	var buildErr *RemoteBuildFailure
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected a RemoteBuildFailure, got %v", err)
	}
	if ExitCode(err) != ExitBuildFailed {
		t.Errorf("expected exit code %d, got %d", ExitBuildFailed, ExitCode(err))
	}
	if !strings.Contains(err.Error(), "https://busl.test/streams/b-1.log") {
		t.Errorf("failure message should point at the platform's build log: %q", err.Error())
	}
}

func TestDeploy_ReleasePhaseFailure(t *testing.T) {
	platform := &fakePlatform{
		buildStatuses: []heroku.BuildStatus{heroku.BuildStatusSucceeded},
		buildRelease:  &heroku.ReleaseRef{ID: "r-42"},
		releaseStatuses: []heroku.ReleaseStatus{
			heroku.ReleaseStatusPending,
			heroku.ReleaseStatusFailed,
		},
		releaseVersion:     42,
		releaseDescription: "Deploy 59d2e89c",
	}
	orch := NewOrchestrator(platform, testOptions(newFakeClock()))

	_, err := orch.Deploy(context.Background(), testRequest())

	var buildErr *RemoteBuildFailure
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected a RemoteBuildFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "Deploy 59d2e89c") {
		t.Errorf("failure message should carry the release description: %q", err.Error())
	}
}

func TestDeploy_PollSurvivesTransientErrors(t *testing.T) {
	platform := &fakePlatform{
		getBuildErrs:    []error{&heroku.APIError{StatusCode: http.StatusServiceUnavailable}},
		buildStatuses:   []heroku.BuildStatus{heroku.BuildStatusSucceeded},
		buildRelease:    &heroku.ReleaseRef{ID: "r-42"},
		releaseStatuses: []heroku.ReleaseStatus{heroku.ReleaseStatusSucceeded},
		releaseVersion:  42,
	}
	orch := NewOrchestrator(platform, testOptions(newFakeClock()))

	result, err := orch.Deploy(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("a transient poll error must not end the deploy: %v", err)
	}
	if result.ReleaseVersion != 42 {
		t.Errorf("expected release v42, got v%d", result.ReleaseVersion)
	}
}

func TestDeploy_RedeployRetriesLiveRelease(t *testing.T) {
	platform := &fakePlatform{
		releases: []heroku.Release{
			{ID: "r-19", Version: 19, Status: heroku.ReleaseStatusSucceeded, Description: "Deploy 59d2e89c", Slug: &heroku.SlugRef{ID: "s-1"}},
		},
		slugs: map[string]*heroku.Slug{
			"s-1": {ID: "s-1", Commit: testCommit},
		},
		releaseStatuses: []heroku.ReleaseStatus{heroku.ReleaseStatusPending, heroku.ReleaseStatusSucceeded},
		releaseVersion:  20,
	}
	req := testRequest()
	req.Type = config.DeploymentTypeRedeploy
	orch := NewOrchestrator(platform, testOptions(newFakeClock()))

	result, err := orch.Deploy(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ReleaseVersion != 20 {
		t.Errorf("expected release v20, got v%d", result.ReleaseVersion)
	}
	if platform.countCalls("CreateBuild") != 0 {
		t.Error("a redeploy must not build anything")
	}
	if len(platform.createdDescriptions) != 1 || platform.createdDescriptions[0] != "Retry of v19: Deploy 59d2e89c" {
		t.Errorf("unexpected release description: %v", platform.createdDescriptions)
	}
}

func TestDeploy_RedeployOfDifferentCommitDeploysForward(t *testing.T) {
	platform := &fakePlatform{
		releases: []heroku.Release{
			{ID: "r-19", Version: 19, Status: heroku.ReleaseStatusSucceeded, Slug: &heroku.SlugRef{ID: "s-1"}},
		},
		slugs: map[string]*heroku.Slug{
			"s-1": {ID: "s-1", Commit: "0000000000000000000000000000000000000000"},
		},
		buildStatuses:   []heroku.BuildStatus{heroku.BuildStatusSucceeded},
		buildRelease:    &heroku.ReleaseRef{ID: "r-20"},
		releaseStatuses: []heroku.ReleaseStatus{heroku.ReleaseStatusSucceeded},
		releaseVersion:  20,
	}
	req := testRequest()
	req.Type = config.DeploymentTypeRedeploy
	orch := NewOrchestrator(platform, testOptions(newFakeClock()))

	_, err := orch.Deploy(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if platform.countCalls("CreateBuild") != 1 {
		t.Error("expected a fallback to a forward deploy")
	}
}

func TestDeploy_RollbackReleasesMatchingSlug(t *testing.T) {
	platform := &fakePlatform{
		releases: []heroku.Release{
			{ID: "r-20", Version: 20, Status: heroku.ReleaseStatusSucceeded, Slug: &heroku.SlugRef{ID: "s-2"}},
			{ID: "r-19", Version: 19, Status: heroku.ReleaseStatusSucceeded, Slug: &heroku.SlugRef{ID: "s-1"}},
		},
		slugs: map[string]*heroku.Slug{
			"s-2": {ID: "s-2", Commit: "0000000000000000000000000000000000000000"},
			"s-1": {ID: "s-1", Commit: testCommit},
		},
		releaseStatuses: []heroku.ReleaseStatus{heroku.ReleaseStatusSucceeded},
		releaseVersion:  21,
	}
	req := testRequest()
	req.Type = config.DeploymentTypeRollback
	orch := NewOrchestrator(platform, testOptions(newFakeClock()))

	result, err := orch.Deploy(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ReleaseVersion != 21 {
		t.Errorf("expected release v21, got v%d", result.ReleaseVersion)
	}
	if len(platform.createdDescriptions) != 1 || platform.createdDescriptions[0] != "Rollback to v19" {
		t.Errorf("unexpected release description: %v", platform.createdDescriptions)
	}
	if platform.countCalls("CreateBuild") != 0 {
		t.Error("a rollback must not build anything")
	}
}

func TestDeploy_RollbackWithoutMatchingRelease(t *testing.T) {
	platform := &fakePlatform{
		releases: []heroku.Release{
			{ID: "r-20", Version: 20, Status: heroku.ReleaseStatusSucceeded, Slug: &heroku.SlugRef{ID: "s-2"}},
		},
		slugs: map[string]*heroku.Slug{
			"s-2": {ID: "s-2", Commit: "0000000000000000000000000000000000000000"},
		},
	}
	req := testRequest()
	req.Type = config.DeploymentTypeRollback
	orch := NewOrchestrator(platform, testOptions(newFakeClock()))

	_, err := orch.Deploy(context.Background(), req)

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected a ConfigurationError, got %v", err)
	}
	if ExitCode(err) != ExitConfiguration {
		t.Errorf("expected exit code %d, got %d", ExitConfiguration, ExitCode(err))
	}
}

func TestDeploy_DryRunTouchesNothing(t *testing.T) {
	platform := &fakePlatform{}
	req := testRequest()
	req.DryRun = true
	orch := NewOrchestrator(platform, testOptions(newFakeClock()))

	result, err := orch.Deploy(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(platform.calls) != 0 {
		t.Errorf("dry run made platform calls: %v", platform.calls)
	}
	if result.ReleaseVersion != 0 {
		t.Errorf("dry run must not report a release version, got v%d", result.ReleaseVersion)
	}
}

func TestDeploy_RejectsEmptyInputs(t *testing.T) {
	orch := NewOrchestrator(&fakePlatform{}, testOptions(newFakeClock()))

	for name, req := range map[string]Request{
		"empty app":    {CommitHash: testCommit, SourceURL: "https://example.test/src.tar.gz"},
		"empty commit": {App: "fake-app", SourceURL: "https://example.test/src.tar.gz"},
		"bad type":     {App: "fake-app", CommitHash: testCommit, Type: "sideways"},
	} {
		_, err := orch.Deploy(context.Background(), req)
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s: expected a ConfigurationError, got %v", name, err)
		}
	}
}

func TestDeploy_ReporterSeesOutcome(t *testing.T) {
	platform := &fakePlatform{
		buildStatuses:   []heroku.BuildStatus{heroku.BuildStatusSucceeded},
		buildRelease:    &heroku.ReleaseRef{ID: "r-42"},
		releaseStatuses: []heroku.ReleaseStatus{heroku.ReleaseStatusSucceeded},
		releaseVersion:  42,
	}
	reporter := &fakeReporter{}
	opts := testOptions(newFakeClock())
	opts.Reporter = reporter
	orch := NewOrchestrator(platform, opts)

	if _, err := orch.Deploy(context.Background(), testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reporter.startedWith) != 1 || reporter.startedWith[0] != testCommit {
		t.Errorf("reporter did not see the start: %v", reporter.startedWith)
	}
	if len(reporter.finishedOK) != 1 || !reporter.finishedOK[0] {
		t.Errorf("reporter did not see the success: %v", reporter.finishedOK)
	}
}

func TestDeploy_ReporterSeesFailure(t *testing.T) {
	platform := &fakePlatform{
		createBuildErrs: []error{&heroku.APIError{StatusCode: http.StatusUnauthorized}},
	}
	reporter := &fakeReporter{}
	opts := testOptions(newFakeClock())
	opts.Reporter = reporter
	orch := NewOrchestrator(platform, opts)

	if _, err := orch.Deploy(context.Background(), testRequest()); err == nil {
		t.Fatal("expected an error")
	}
	if len(reporter.finishedOK) != 1 || reporter.finishedOK[0] {
		t.Errorf("reporter did not see the failure: %v", reporter.finishedOK)
	}
	if len(reporter.descriptions) != 1 || !strings.Contains(reporter.descriptions[0], "authentication failed") {
		t.Errorf("reporter description should describe the failure: %v", reporter.descriptions)
	}
}
