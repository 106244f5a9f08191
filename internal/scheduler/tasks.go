package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskAutoLossSweep = "pipeline.autoloss.sweep"

const TaskKPIRecompute = "kpi.recompute"

// KPIRecomputePayload names the period to fold. An empty period means the
// current month and the one before it, which still receives late events.
type KPIRecomputePayload struct {
	Period string `json:"period,omitempty"`
}

func NewAutoLossSweepTask() *asynq.Task {
	return asynq.NewTask(TaskAutoLossSweep, nil)
}

func NewKPIRecomputeTask(payload KPIRecomputePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskKPIRecompute, data), nil
}

func ParseKPIRecomputePayload(task *asynq.Task) (KPIRecomputePayload, error) {
	var payload KPIRecomputePayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return KPIRecomputePayload{}, err
	}
	return payload, nil
}
