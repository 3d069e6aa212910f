package heroku

// BuildStatus is a build's lifecycle state as reported by the platform.
// Builds move forward only: pending → building → succeeded | failed.
type BuildStatus string

const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusBuilding  BuildStatus = "building"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

// IsTerminal returns true if no further transition occurs from this status
func (s BuildStatus) IsTerminal() bool {
	switch s {
	case BuildStatusSucceeded, BuildStatusFailed:
		return true
	default:
		return false
	}
}

// ReleaseStatus is a release's lifecycle state as reported by the platform
type ReleaseStatus string

const (
	ReleaseStatusPending   ReleaseStatus = "pending"
	ReleaseStatusSucceeded ReleaseStatus = "succeeded"
	ReleaseStatusFailed    ReleaseStatus = "failed"
)

// IsTerminal returns true if no further transition occurs from this status
func (s ReleaseStatus) IsTerminal() bool {
	switch s {
	case ReleaseStatusSucceeded, ReleaseStatusFailed:
		return true
	default:
		return false
	}
}

// SourceBlob references the archive the platform fetches an app's source
// tree from when building
type SourceBlob struct {
	URL     string `json:"url"`
	Version string `json:"version,omitempty"`
}

// Build is a platform-side job that packages a source reference into a
// deployable slug
type Build struct {
	ID              string      `json:"id"`
	Status          BuildStatus `json:"status"`
	SourceBlob      SourceBlob  `json:"source_blob"`
	Release         *ReleaseRef `json:"release"`
	OutputStreamURL string      `json:"output_stream_url,omitempty"`
}

// ReleaseRef is the release identity embedded in a build response
type ReleaseRef struct {
	ID string `json:"id"`
}

// Release is the platform's activation of a completed build
type Release struct {
	ID          string        `json:"id"`
	Version     int           `json:"version"`
	Status      ReleaseStatus `json:"status"`
	Description string        `json:"description"`
	Slug        *SlugRef      `json:"slug"`
}

// SlugRef is the slug identity embedded in a release response
type SlugRef struct {
	ID string `json:"id"`
}

// SlugID returns the release's slug identifier, or "" for slugless
// releases (e.g. config var changes)
func (r *Release) SlugID() string {
	if r.Slug == nil {
		return ""
	}
	return r.Slug.ID
}

// Slug is a built, deployable snapshot of an app
type Slug struct {
	ID     string `json:"id"`
	Commit string `json:"commit"`
}
