// Package spec defines the wire form of a task specification: the
// caller-supplied description of what context is wanted and under what
// scope and size constraints. A specification is immutable once submitted;
// the builder treats it as input only.
package spec

type TaskType string

const (
	TaskTypeGenerate TaskType = "generate"
	TaskTypeRefactor TaskType = "refactor"
	TaskTypeReview   TaskType = "review"
	TaskTypeTest     TaskType = "test"
	TaskTypeExplain  TaskType = "explain"
)

// Valid reports whether the task type is one of the recognized variants.
// New task types require an explicit addition here so redaction rules can
// never receive an unknown type silently.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeGenerate, TaskTypeRefactor, TaskTypeReview, TaskTypeTest, TaskTypeExplain:
		return true
	default:
		return false
	}
}

// ImpliesExecution reports whether generated output for this task type is
// expected to be executed, which activates forbidden-call redaction rules.
func (t TaskType) ImpliesExecution() bool {
	switch t {
	case TaskTypeGenerate, TaskTypeRefactor, TaskTypeTest:
		return true
	default:
		return false
	}
}

type Scope struct {
	Roots   []string `json:"roots,omitempty"`
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

type Constraints struct {
	MaxTokens int `json:"max_tokens"`
	MaxItems  int `json:"max_items"`
}

type TaskSpecification struct {
	TaskID      string      `json:"task_id"`
	TaskType    TaskType    `json:"task_type"`
	Summary     string      `json:"summary"`
	Scope       Scope       `json:"scope"`
	Constraints Constraints `json:"constraints"`
	// AllowRemote records explicit caller intent to permit the packet to
	// leave the local boundary. Policy may still downgrade it.
	AllowRemote bool `json:"allow_remote,omitempty"`
}
