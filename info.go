package docsync

// DatabaseInfo is a snapshot of a store's counters. It does not change after
// it is read; fetch it again to observe new writes.
type DatabaseInfo struct {
	Name               string `json:"db_name"`
	DocCount           int64  `json:"doc_count"`
	DiskSize           int64  `json:"disk_size"`
	DataSize           int64  `json:"data_size"`
	DeletedDocCount    int64  `json:"doc_del_count"`
	PurgeSeq           int64  `json:"purge_seq"`
	UpdateSeq          int64  `json:"update_seq"`
	CompactRunning     bool   `json:"compact_running"`
	CommittedUpdateSeq int64  `json:"committed_update_seq"`
}

// DecodeDatabaseInfo reads the metadata object returned by GET /{db}.
func DecodeDatabaseInfo(tree any) (DatabaseInfo, error) {
	f := ReadFields(tree)
	info := DatabaseInfo{
		Name:               f.String("db_name"),
		DocCount:           f.Int("doc_count"),
		DiskSize:           f.Int("disk_size"),
		DataSize:           f.Int("data_size"),
		DeletedDocCount:    f.Int("doc_del_count"),
		PurgeSeq:           f.Int("purge_seq"),
		UpdateSeq:          f.Int("update_seq"),
		CompactRunning:     f.Bool("compact_running"),
		CommittedUpdateSeq: f.Int("committed_update_seq"),
	}
	if err := f.Err(); err != nil {
		return DatabaseInfo{}, err
	}
	return info, nil
}

// Tree returns the wire form of the snapshot.
func (i DatabaseInfo) Tree() map[string]any {
	return map[string]any{
		"db_name":              i.Name,
		"doc_count":            i.DocCount,
		"disk_size":            i.DiskSize,
		"data_size":            i.DataSize,
		"doc_del_count":        i.DeletedDocCount,
		"purge_seq":            i.PurgeSeq,
		"update_seq":           i.UpdateSeq,
		"compact_running":      i.CompactRunning,
		"committed_update_seq": i.CommittedUpdateSeq,
	}
}
