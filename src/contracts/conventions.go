package contracts

import "strings"

// Conventions holds the task naming rules producers follow.
type Conventions struct {
	// TopLevelPrefix marks task ids that open an interaction.
	TopLevelPrefix string
	// SubtaskPrefix marks task ids created for delegated work.
	SubtaskPrefix string
	// InfraPrefixes are name prefixes of gateways and other non-agent
	// participants; such names are never taken as agent names.
	InfraPrefixes []string
}

// DefaultConventions returns the naming rules used by the agent mesh.
func DefaultConventions() Conventions {
	return Conventions{
		TopLevelPrefix: "gdk-task-",
		SubtaskPrefix:  "a2a_subtask_",
		InfraPrefixes:  []string{"gdk-"},
	}
}

// IsTopLevel reports whether id names a top-level task.
func (c Conventions) IsTopLevel(id string) bool {
	return c.TopLevelPrefix != "" && strings.HasPrefix(id, c.TopLevelPrefix)
}

// IsSubtask reports whether id names a delegated subtask.
func (c Conventions) IsSubtask(id string) bool {
	return c.SubtaskPrefix != "" && strings.HasPrefix(id, c.SubtaskPrefix)
}

// IsTaskID reports whether id follows either task naming rule.
func (c Conventions) IsTaskID(id string) bool {
	return c.IsTopLevel(id) || c.IsSubtask(id)
}

// IsInfra reports whether name belongs to infrastructure rather than an agent.
func (c Conventions) IsInfra(name string) bool {
	for _, p := range c.InfraPrefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
