package config

// Deployment types as constants to prevent typos
const (
	// DeploymentTypeForward deploys a commit that is not live yet
	DeploymentTypeForward = "forward"

	// DeploymentTypeRollback re-releases an older, previously built commit
	DeploymentTypeRollback = "rollback"

	// DeploymentTypeRedeploy re-runs the release of the currently live commit
	DeploymentTypeRedeploy = "redeploy"
)

// ValidDeploymentTypes returns a list of all valid deployment type names
func ValidDeploymentTypes() []string {
	return []string{
		DeploymentTypeForward,
		DeploymentTypeRollback,
		DeploymentTypeRedeploy,
	}
}

// IsValidDeploymentType checks if the given deployment type name is valid
func IsValidDeploymentType(dt string) bool {
	for _, validType := range ValidDeploymentTypes() {
		if dt == validType {
			return true
		}
	}
	return false
}
