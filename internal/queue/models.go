package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline item.
type Status string

const (
	StatusPending            Status = "pending"
	StatusDownloading        Status = "downloading"
	StatusDownloaded         Status = "downloaded"
	StatusValidating         Status = "validating"
	StatusValidated          Status = "validated"
	StatusExtractingMetadata Status = "extracting_metadata"
	StatusMetadataReady      Status = "metadata_ready"
	StatusExtractingFeatures Status = "extracting_features"
	StatusFeaturesReady      Status = "features_ready"
	StatusOrganizing         Status = "organizing"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusDownloading,
	StatusDownloaded,
	StatusValidating,
	StatusValidated,
	StatusExtractingMetadata,
	StatusMetadataReady,
	StatusExtractingFeatures,
	StatusFeaturesReady,
	StatusOrganizing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusDownloading:        {},
	StatusValidating:         {},
	StatusExtractingMetadata: {},
	StatusExtractingFeatures: {},
	StatusOrganizing:         {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminalStatus reports whether a status ends the item's run.
func IsTerminalStatus(status Status) bool {
	return status == StatusCompleted || status == StatusFailed
}

// StageStatus is the per-stage outcome recorded on an item.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageState records how one stage went for an item.
type StageState struct {
	Status   StageStatus `json:"status"`
	Attempts int         `json:"attempts,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// StageStates maps stage name to its recorded state.
type StageStates map[string]StageState

// ParseStageStates decodes the persisted stage_states column; an empty or
// malformed value yields an empty map rather than an error so a damaged row
// simply reruns its stages.
func ParseStageStates(raw string) StageStates {
	states := make(StageStates)
	if strings.TrimSpace(raw) == "" {
		return states
	}
	if err := json.Unmarshal([]byte(raw), &states); err != nil {
		return make(StageStates)
	}
	return states
}

// Encode serializes the stage states for persistence.
func (s StageStates) Encode() string {
	if len(s) == 0 {
		return ""
	}
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(data)
}

// Item represents a pipeline item persisted in SQLite.
type Item struct {
	ID           int64
	SourceURL    string
	Title        string
	Genre        string
	Subgenre     string
	TagsJSON     string
	Status       Status
	StageStates  string
	LocalPath    string
	Fingerprint  string
	QualityScore *float64
	FeatureRef   string
	CacheHit     bool
	OutputPath   string
	MetadataJSON string
	ErrorMessage string
	ReasonCode   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Tags decodes the persisted tag list.
func (i *Item) Tags() []string {
	if strings.TrimSpace(i.TagsJSON) == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(i.TagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}

// SetTags encodes the tag list for persistence.
func (i *Item) SetTags(tags []string) {
	if len(tags) == 0 {
		i.TagsJSON = ""
		return
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return
	}
	i.TagsJSON = string(data)
}

// StageState returns the recorded state for a stage, defaulting to pending.
func (i *Item) StageState(stage string) StageState {
	states := ParseStageStates(i.StageStates)
	if state, ok := states[stage]; ok {
		return state
	}
	return StageState{Status: StagePending}
}

// SetStageState records a stage outcome on the item.
func (i *Item) SetStageState(stage string, state StageState) {
	states := ParseStageStates(i.StageStates)
	states[stage] = state
	i.StageStates = states.Encode()
}

// SetFailed marks the item as terminally failed with a reason code for the
// final report.
func (i *Item) SetFailed(message, reasonCode string) {
	i.Status = StatusFailed
	i.ErrorMessage = message
	i.ReasonCode = reasonCode
}

// IsProcessing reports whether the item is mid-stage.
func (i Item) IsProcessing() bool {
	_, ok := processingStatuses[i.Status]
	return ok
}

// HealthSummary describes aggregated item counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}
