package couch

// Request and response bodies of the wire protocol. The server package
// produces them and Client consumes them.
type (
	BulkDocsRequest struct {
		Docs     []map[string]any `json:"docs"`
		NewEdits *bool            `json:"new_edits,omitempty"`
	}

	BulkDocsResult struct {
		ID     string `json:"id"`
		Rev    string `json:"rev,omitempty"`
		OK     bool   `json:"ok,omitempty"`
		Error  string `json:"error,omitempty"`
		Reason string `json:"reason,omitempty"`
	}

	// RevsDiffRequest maps document ids to claimed revisions.
	RevsDiffRequest map[string][]string

	// RevsDiffResponse maps document ids to the revisions the store lacks.
	// Documents with nothing missing are left out.
	RevsDiffResponse map[string]RevsDiffEntry

	RevsDiffEntry struct {
		Missing []string `json:"missing"`
	}

	AllDocsResponse struct {
		TotalRows int          `json:"total_rows"`
		Offset    int          `json:"offset"`
		Rows      []AllDocsRow `json:"rows"`
	}

	AllDocsRow struct {
		ID    string         `json:"id"`
		Key   string         `json:"key"`
		Value RowValue       `json:"value"`
		Doc   map[string]any `json:"doc,omitempty"`
	}

	RowValue struct {
		Rev string `json:"rev"`
	}

	DocResponse struct {
		OK  bool   `json:"ok"`
		ID  string `json:"id,omitempty"`
		Rev string `json:"rev,omitempty"`
	}

	ErrorResponse struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
)
