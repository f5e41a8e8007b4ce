package api

import (
	"encoding/json"
	"time"

	"voice2action/internal/credentials"
	"voice2action/internal/durable"
	"voice2action/internal/schedule"
	"voice2action/internal/tracker"
)

// FromTickResult maps a dispatcher result onto the subscriber vocabulary.
func FromTickResult(result schedule.Result) TickResponse {
	status := DeliverySuccess
	switch result.Outcome {
	case schedule.OutcomeRetry:
		status = DeliveryRetry
	case schedule.OutcomeRejected:
		status = DeliveryDrop
	}
	return TickResponse{
		Status:     status,
		Outcome:    string(result.Outcome),
		MessageID:  result.MessageID,
		InstanceID: result.InstanceID,
		Error:      result.Error,
	}
}

// FromInstance converts an engine instance. Steps are included only when
// withSteps is set.
func FromInstance(inst *durable.Instance, withSteps bool) Instance {
	if inst == nil {
		return Instance{}
	}
	dto := Instance{
		ID:          inst.ID,
		Name:        inst.Name,
		ParentID:    inst.ParentID,
		Status:      string(inst.Status),
		Error:       inst.Error,
		FailedStage: inst.FailedStage,
		CreatedAt:   formatTime(inst.CreatedAt),
		UpdatedAt:   formatTime(inst.UpdatedAt),
		Children:    inst.Children(),
		Output:      payloadJSON(inst.Output),
	}
	if withSteps {
		dto.Steps = make([]Step, 0, len(inst.History))
		for _, event := range inst.History {
			dto.Steps = append(dto.Steps, Step{
				Seq:        event.Seq,
				Kind:       string(event.Kind),
				Name:       event.Name,
				ChildID:    event.ChildID,
				Error:      event.Error,
				ErrorKind:  event.ErrorKind,
				Attempts:   event.Attempts,
				RecordedAt: formatTime(event.RecordedAt),
			})
		}
	}
	return dto
}

// FromInstances converts a list and tallies instances by status.
func FromInstances(instances []*durable.Instance) InstanceListResponse {
	resp := InstanceListResponse{
		Instances: make([]Instance, 0, len(instances)),
		Counts:    make(map[string]int),
	}
	for _, inst := range instances {
		if inst == nil {
			continue
		}
		resp.Instances = append(resp.Instances, FromInstance(inst, false))
		resp.Counts[string(inst.Status)]++
	}
	return resp
}

// FromFileStates converts tracker states.
func FromFileStates(states []tracker.State) FileListResponse {
	resp := FileListResponse{Files: make([]FileState, 0, len(states))}
	for _, st := range states {
		resp.Files = append(resp.Files, FileState{
			FileID:       st.FileID,
			State:        st.Label(),
			PendingAt:    formatTime(st.PendingAt),
			DownloadedAt: formatTime(st.DownloadedAt),
		})
	}
	return resp
}

// FromAuthStatus converts the credential summary.
func FromAuthStatus(status credentials.Status) AuthStatus {
	dto := AuthStatus{
		Present:         status.Present,
		HasRefreshToken: status.HasRefreshToken,
		NeedsRefresh:    status.NeedsRefresh,
	}
	if status.Present {
		dto.ExpiresAt = formatTime(status.ExpiresAt)
		dto.RemainingSeconds = int64(status.Remaining / time.Second)
	}
	return dto
}

func payloadJSON(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	value, err := durable.DecodeAny(data)
	if err != nil {
		return nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return encoded
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
