package manifest

import (
	"encoding/json"
	"fmt"
)

// Listener receives one event per batch-build step, letting the caller of
// Batch.Run observe a multi-package run without the manifest package
// depending on how it is rendered.
type Listener func(fmt.Stringer)

func jsonString(v interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventBatchLoadSuccess describes a manifest file that has parsed cleanly.
// Neither LoadBatch nor Batch.Run emits it.
type EventBatchLoadSuccess struct {
	Path    string `json:"path,omitempty"`
	Entries int    `json:"entries,omitempty"`
}

func (e EventBatchLoadSuccess) String() string { return jsonString(e) }

// EventPackageStaged is emitted after one manifest entry has been staged.
type EventPackageStaged struct {
	Name         string `json:"name,omitempty"`
	Version      string `json:"version,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	StagePath    string `json:"stage_path,omitempty"`
}

func (e EventPackageStaged) String() string { return jsonString(e) }

// EventPackageSealed is emitted after one manifest entry has been sealed
// into a .dpm, or skipped because Seal was false for that entry.
type EventPackageSealed struct {
	Name    string `json:"name,omitempty"`
	DpmPath string `json:"dpm_path,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

func (e EventPackageSealed) String() string { return jsonString(e) }

// EventBatchFailed is emitted when a manifest entry aborts the run.
type EventBatchFailed struct {
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

func (e EventBatchFailed) String() string { return jsonString(e) }
