package main

// Wire shapes of the gateway responses the CLI decodes.

type pluginSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	RuntimeMode string `json:"runtime_mode"`
}

type capabilityRow struct {
	Action       string `json:"action"`
	CapabilityID string `json:"capability_id"`
	ResourceType string `json:"resource_type,omitempty"`
	RiskTier     string `json:"risk_tier"`
	RoutePattern string `json:"route_pattern"`
}

type approvalTicket struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	Summary        string         `json:"summary"`
	ProposedEffect map[string]any `json:"proposed_effect"`
	Fingerprint    string         `json:"fingerprint"`
	CapabilityID   string         `json:"capability_id"`
}

type collectionResponse struct {
	Items      []map[string]any `json:"items"`
	NextCursor any              `json:"next_cursor"`
}

type auditListResponse struct {
	Events        []map[string]any `json:"events"`
	NextPageToken any              `json:"next_page_token"`
	TotalSize     int              `json:"total_size"`
}
