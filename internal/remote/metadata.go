package remote

import "encoding/json"

// Metadata is the JSON document the service serves for a bucket. An empty
// object means the bucket does not exist yet or holds nothing; FilesCount is
// a pointer so "absent" and "zero files" stay distinguishable.
type Metadata struct {
	Server     string          `json:"server,omitempty"`
	Dir        string          `json:"dir,omitempty"`
	FilesCount *int            `json:"files_count,omitempty"`
	Files      []FileEntry     `json:"files,omitempty"`
	Tasks      json.RawMessage `json:"tasks,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// FileEntry describes one object in a bucket listing.
type FileEntry struct {
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
	Format string `json:"format,omitempty"`
	Size   string `json:"size,omitempty"`
	MD5    string `json:"md5,omitempty"`
}

// HasFiles reports whether the listing contains at least one object.
func (m *Metadata) HasFiles() bool {
	return m != nil && m.FilesCount != nil && *m.FilesCount > 0 && len(m.Files) > 0
}

// PendingTasks returns the number of outstanding remote tasks recorded in the
// metadata document.
func (m *Metadata) PendingTasks() int {
	if m == nil || len(m.Tasks) == 0 {
		return 0
	}
	var tasks []json.RawMessage
	if err := json.Unmarshal(m.Tasks, &tasks); err != nil {
		return 0
	}
	return len(tasks)
}

// FindFile returns the listing entry with the given name, or nil.
func (m *Metadata) FindFile(name string) *FileEntry {
	if m == nil {
		return nil
	}
	for i := range m.Files {
		if m.Files[i].Name == name {
			return &m.Files[i]
		}
	}
	return nil
}

// TaskHistory summarizes the catalog page for a bucket. The page is HTML;
// the service exposes no structured endpoint, so two literal marker phrases
// are all there is to go on.
type TaskHistory struct {
	// InCreation is set when the catalog answers 409, which the service
	// does while the bucket is being created.
	InCreation  bool
	Historical  bool
	Outstanding bool
}

// BucketNeverCreated reports the "no bucket exists" verdict: no historical
// and no outstanding tasks means nothing was ever scheduled for this
// identifier.
func (h TaskHistory) BucketNeverCreated() bool {
	return !h.InCreation && !h.Historical && !h.Outstanding
}
