// Package analysis implements the Analysis record, its state machine, and
// the resume() control logic: the heart of the orchestration core.
package analysis

// File is the submission or extraction artifact an Analysis is rooted on.
// Content is immutable on disk once SHA256 is set; a File of type "hash"
// carries no bytes until a preloader attaches real content.
type File struct {
	ID     string `json:"id"`
	MD5    string `json:"md5,omitempty"`
	SHA1   string `json:"sha1,omitempty"`
	SHA256 string `json:"sha256,omitempty"`

	Path         string `json:"path,omitempty"`
	Type         string `json:"type"` // "executable", "pdf", "url", "hash", ...
	Mime         string `json:"mime,omitempty"`
	DetailedType string `json:"detailed_type,omitempty"`
	Size         int64  `json:"size,omitempty"`

	Names          []string `json:"names,omitempty"`
	OwnerGroups    []string `json:"owner_groups,omitempty"`
	ReadableGroups []string `json:"readable_groups,omitempty"`

	// AncestorAnalyses lists every analysis id in this file's lineage,
	// populated by AddParentAnalysis the way original_source's
	// File.add_parent_analysis does.
	AncestorAnalyses []string `json:"ancestor_analyses,omitempty"`

	// ExtractedByAnalyses lists every analysis id that produced this file
	// as an extraction, populated by ExtractedFrom the way
	// original_source's File.extracted_from does.
	ExtractedByAnalyses []string `json:"extracted_by_analyses,omitempty"`

	ProbableNames []string          `json:"probable_names,omitempty"`
	AVSubmissions map[string]string `json:"av_submissions,omitempty"`
	Comments      []string          `json:"comments,omitempty"`
}

// IsHash reports whether this File is a hash placeholder with no bytes.
func (f *File) IsHash() bool { return f.Type == "hash" }

// AddParentAnalysis records analysisID in the file's ancestor lineage,
// deduplicating on repeat calls.
func (f *File) AddParentAnalysis(analysisID string) {
	if containsString(f.AncestorAnalyses, analysisID) {
		return
	}
	f.AncestorAnalyses = append(f.AncestorAnalyses, analysisID)
}

// ExtractedFrom records that parentAnalysisID extracted this file,
// back-referencing both directions: ExtractedByAnalyses on this file, and
// (via AddParentAnalysis) AncestorAnalyses too, matching
// original_source/fame/core/file.py's pair of calls on every extraction.
func (f *File) ExtractedFrom(parentAnalysisID string) {
	if !containsString(f.ExtractedByAnalyses, parentAnalysisID) {
		f.ExtractedByAnalyses = append(f.ExtractedByAnalyses, parentAnalysisID)
	}
	f.AddParentAnalysis(parentAnalysisID)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
