package progress

// Keys builds the storage keys of runs and owners.
type Keys struct {
	RunPrefix    string
	OwnerPrefix  string
	FilePrefix   string
	GlobalStream string
}

// DefaultKeys returns the ingest key layout.
func DefaultKeys() Keys {
	return Keys{
		RunPrefix:    "ingest:run:",
		OwnerPrefix:  "ingest:user:",
		FilePrefix:   "ingest:file:",
		GlobalStream: "ingest:progress",
	}
}

func (k Keys) RunEvents(runID string) string   { return k.RunPrefix + runID + ":events" }
func (k Keys) RunMeta(runID string) string     { return k.RunPrefix + runID + ":meta" }
func (k Keys) RunSnapshot(runID string) string { return k.RunPrefix + runID + ":latest" }
func (k Keys) OwnerRuns(owner string) string   { return k.OwnerPrefix + owner + ":runs" }
func (k Keys) FileLatestRun(fileNo string) string {
	return k.FilePrefix + fileNo + ":latest_run_id"
}
