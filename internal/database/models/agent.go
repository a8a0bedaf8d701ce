package models

import (
	"time"
)

const (
	AgentStatusOnline   = "online"
	AgentStatusOffline  = "offline"
	AgentStatusChecking = "checking"

	AgentLocationOnSite  = "on-site"
	AgentLocationOffSite = "off-site"

	// AgentSourceEnv marks the agent synced from AGENT_API_URL at startup.
	AgentSourceEnv    = "env"
	AgentSourceManual = "manual"
)

// Agent is a registered log agent the dashboard can pull logs from.
type Agent struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	Name        string     `gorm:"not null" json:"name"`
	URL         string     `gorm:"not null" json:"url"`
	Token       string     `json:"token,omitempty"`
	Location    string     `gorm:"not null;default:on-site" json:"location"`
	Number      int        `gorm:"not null" json:"number"`
	Status      string     `gorm:"not null;default:offline" json:"status"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `gorm:"serializer:json" json:"tags"`
	Source      string     `gorm:"not null;default:manual" json:"source"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (Agent) TableName() string {
	return "agents"
}

// Redacted returns a copy without the token, for API responses.
func (a Agent) Redacted() Agent {
	a.Token = ""
	return a
}

// SelectedAgent is a single-row table holding the active agent.
type SelectedAgent struct {
	ID        uint   `gorm:"primaryKey"`
	AgentID   string `gorm:"not null"`
	UpdatedAt time.Time
}

func (SelectedAgent) TableName() string {
	return "selected_agent"
}
