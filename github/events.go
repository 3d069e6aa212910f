package github

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/go-github/v58/github"

	"github.com/imranansari/heroku-deploy-action/config"
)

// deploymentPayload is the slice of the deployment event payload this
// action understands. The legacy ghd form is still emitted by old
// pipelines.
type deploymentPayload struct {
	DeploymentType string `json:"deployment_type"`
	GHD            *struct {
		Type string `json:"type"`
	} `json:"ghd"`
}

// ReadDeploymentType extracts the requested deployment type from the
// Actions event payload file. Events without a deployment payload, or a
// payload without a type, mean a plain forward deploy.
func ReadDeploymentType(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read event payload %s: %w", path, err)
	}

	var event github.DeploymentEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", fmt.Errorf("failed to parse event payload %s: %w", path, err)
	}

	deployment := event.GetDeployment()
	if deployment == nil {
		return config.DeploymentTypeForward, nil
	}

	raw := deployment.Payload
	if len(raw) == 0 {
		return config.DeploymentTypeForward, nil
	}

	// Older pipelines double-encode the payload as a JSON string
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = []byte(encoded)
	}

	var payload deploymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("failed to parse deployment payload: %w", err)
	}

	deploymentType := payload.DeploymentType
	if payload.GHD != nil {
		deploymentType = payload.GHD.Type
	}
	if deploymentType == "" {
		return config.DeploymentTypeForward, nil
	}
	if !config.IsValidDeploymentType(deploymentType) {
		return "", fmt.Errorf("event requests unknown deployment type %q", deploymentType)
	}
	return deploymentType, nil
}
