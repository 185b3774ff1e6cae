package controllers

// Common request/response types for HTTP controllers

// markReadReq marks one notification as read.
type markReadReq struct {
	ID string `json:"id"`
}

// groupInfoJSON describes one consumer group of a stream.
type groupInfoJSON struct {
	Name            string `json:"name"`
	LastDeliveredID string `json:"lastDeliveredId"`
	EntriesRead     int64  `json:"entriesRead"`
	Pending         int    `json:"pending"`
	Consumers       int    `json:"consumers"`
}

// streamInfoJSON summarizes a stream.
type streamInfoJSON struct {
	Stream  string          `json:"stream"`
	Exists  bool            `json:"exists"`
	Length  int64           `json:"length"`
	FirstID string          `json:"firstId,omitempty"`
	LastID  string          `json:"lastId,omitempty"`
	Groups  []groupInfoJSON `json:"groups"`
}
