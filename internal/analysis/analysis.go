package analysis

import "time"

// Status is the Analysis lifecycle state from state
// diagram: pending -> [preloading] -> running -> {finished, error}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPreloading Status = "preloading"
	StatusRunning    Status = "running"
	StatusFinished   Status = "finished"
	StatusError      Status = "error"
)

// IOC is one indicator-of-compromise record accumulated during analysis.
type IOC struct {
	Value        string   `json:"value"`
	Tags         []string `json:"tags,omitempty"`
	TITags       []string `json:"ti_tags,omitempty"`
	TIIndicators []string `json:"ti_indicators,omitempty"`
	Sources      []string `json:"sources,omitempty"`
}

// Analysis is the document stored under store.CollectionAnalysis. Every
// mutation after creation goes through the Store's per-field operators
// (AddToSet/Pull/SetField/...) rather than a full Put, so concurrent
// workers touching disjoint sub-fields never clobber each other -- this
// struct is the read-side shape, not the thing workers write wholesale.
type Analysis struct {
	ID       string `json:"id"`
	FileID   string `json:"file_id"`
	Status   Status `json:"status"`
	User     string `json:"user,omitempty"`
	Groups   []string `json:"groups,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"end_date,omitempty"`

	Modules           []string `json:"modules,omitempty"`
	PreloadingModules []string `json:"preloading_modules,omitempty"`
	PendingModules    []string `json:"pending_modules,omitempty"`
	WaitingModules    []string `json:"waiting_modules,omitempty"`
	ExecutedModules   []string `json:"executed_modules,omitempty"`
	CanceledModules   []string `json:"canceled_modules,omitempty"`

	Results        map[string]any      `json:"results,omitempty"`
	GeneratedFiles map[string][]string `json:"generated_files,omitempty"`
	ExtractedFiles []string            `json:"extracted_files,omitempty"`
	SupportFiles   map[string]map[string]string `json:"support_files,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	IOCs           []IOC    `json:"iocs,omitempty"`
	ProbableNames  []string `json:"probable_names,omitempty"`
	Extractions    []string `json:"extractions,omitempty"`
	Logs           []string `json:"logs,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
}

// MagicEnabled reports whether the automatic general-purpose pass and
// tag/type-triggered enqueueing are active for this analysis. Default is
// true; an explicit options["magic_enabled"] = false turns it off.
func (a *Analysis) MagicEnabled() bool {
	if a.Options == nil {
		return true
	}
	v, ok := a.Options["magic_enabled"]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	return !ok || b
}

// moduleState reports which of the four sets name belongs to, or ""
// if it belongs to none -- a module must never be in more than one.
func (a *Analysis) moduleState(name string) string {
	switch {
	case containsString(a.PendingModules, name):
		return "pending"
	case containsString(a.WaitingModules, name):
		return "waiting"
	case containsString(a.ExecutedModules, name):
		return "executed"
	case containsString(a.CanceledModules, name):
		return "canceled"
	default:
		return ""
	}
}
