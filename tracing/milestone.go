package tracing

import "github.com/sarchlab/shiba/sim"

// MilestoneKind categorizes what a task was waiting on when a milestone was
// recorded.
type MilestoneKind string

// The milestone kinds.
const (
	MilestoneKindHardwareResource MilestoneKind = "hardware_resource"
	MilestoneKindNetworkTransfer  MilestoneKind = "network_transfer"
	MilestoneKindQueue            MilestoneKind = "queue"
	MilestoneKindDependency       MilestoneKind = "dependency"
	MilestoneKindOther            MilestoneKind = "other"
)

// Milestone represents a point in time where the processing of a task makes
// progress.
type Milestone struct {
	ID       string         `json:"id"`
	TaskID   string         `json:"task_id"`
	Kind     MilestoneKind  `json:"kind"`
	What     string         `json:"what"`
	Location string         `json:"location"`
	Time     sim.VTimeInSec `json:"time"`
}
