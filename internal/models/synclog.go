package models

import "time"

const (
	SyncJobSweep     = "sweep"
	SyncJobFullSweep = "full_sweep"
	SyncJobOnDemand  = "on_demand"
)

type SyncLog struct {
	ID           string    `json:"id"`
	Job          string    `json:"job"`
	BatchNo      int       `json:"batchNo"`
	ContainerNos []string  `json:"containerNos"`
	Requested    int       `json:"requested"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Error        *string   `json:"error,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}
