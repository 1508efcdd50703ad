package models

import "time"

// WorkflowDefinition identifies a processing workflow known to the engine.
type WorkflowDefinition struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// ConfiguredWorkflow is a definition plus the parameters to start it with.
type ConfiguredWorkflow struct {
	Definition WorkflowDefinition `json:"definition"`
	Parameters map[string]string  `json:"parameters,omitempty"`
}

type WorkflowState string

const (
	WorkflowInstantiated WorkflowState = "instantiated"
)

// WorkflowInstance is a started run of a workflow on one media package.
type WorkflowInstance struct {
	ID             string        `json:"id"`
	DefinitionID   string        `json:"definition_id"`
	MediaPackageID string        `json:"media_package_id"`
	State          WorkflowState `json:"state"`
	CreatedAt      time.Time     `json:"created_at"`
}
