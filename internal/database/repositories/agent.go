package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"traefiklens/internal/database/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const envAgentID = "agent-env-001"

var (
	ErrAgentNotFound = errors.New("agent not found")
	// ErrEnvAgent is returned when deleting the agent synced from the environment.
	ErrEnvAgent = errors.New("cannot delete environment-sourced agents")
)

// AgentUpdate is a partial update; nil fields are left unchanged.
type AgentUpdate struct {
	Name        *string    `json:"name"`
	URL         *string    `json:"url"`
	Token       *string    `json:"token"`
	Location    *string    `json:"location"`
	Status      *string    `json:"status"`
	LastSeen    *time.Time `json:"lastSeen"`
	Description *string    `json:"description"`
	Tags        *[]string  `json:"tags"`
}

type AgentRepository interface {
	FindAll() ([]*models.Agent, error)
	FindByID(id string) (*models.Agent, error)
	Create(agent *models.Agent) error
	Update(id string, update AgentUpdate) (*models.Agent, error)
	UpdateStatus(id, status string, seen time.Time) error
	Delete(id string) error
	Selected() (*models.Agent, error)
	SetSelected(id string) error
	SyncEnvAgent(url, token, name string) (*models.Agent, error)
}

type agentRepo struct {
	db *gorm.DB
}

func NewAgentRepository(db *gorm.DB) AgentRepository {
	return &agentRepo{db: db}
}

func (r *agentRepo) FindAll() ([]*models.Agent, error) {
	var agents []*models.Agent
	err := r.db.Order("number ASC").Find(&agents).Error
	return agents, err
}

func (r *agentRepo) FindByID(id string) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.Where("id = ?", id).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// Create numbers the agent after the highest existing one and derives its
// ID from that number (agent-002, agent-003, ...).
func (r *agentRepo) Create(agent *models.Agent) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var maxNumber int
		if err := tx.Model(&models.Agent{}).Select("COALESCE(MAX(number), 0)").Scan(&maxNumber).Error; err != nil {
			return err
		}

		agent.Number = maxNumber + 1
		agent.ID = fmt.Sprintf("agent-%03d", agent.Number)
		agent.Status = models.AgentStatusChecking
		agent.Source = models.AgentSourceManual
		if agent.Location == "" {
			agent.Location = models.AgentLocationOnSite
		}
		if agent.Tags == nil {
			agent.Tags = []string{}
		}
		return tx.Create(agent).Error
	})
}

func (r *agentRepo) Update(id string, update AgentUpdate) (*models.Agent, error) {
	agent, err := r.FindByID(id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if update.Name != nil {
		updates["name"] = *update.Name
	}
	if update.URL != nil {
		updates["url"] = *update.URL
	}
	if update.Token != nil {
		updates["token"] = *update.Token
	}
	if update.Location != nil {
		updates["location"] = *update.Location
	}
	if update.Status != nil {
		updates["status"] = *update.Status
	}
	if update.LastSeen != nil {
		updates["last_seen"] = *update.LastSeen
	}
	if update.Description != nil {
		updates["description"] = *update.Description
	}
	if update.Tags != nil {
		tags, err := json.Marshal(*update.Tags)
		if err != nil {
			return nil, err
		}
		updates["tags"] = string(tags)
	}

	if len(updates) == 0 {
		return agent, nil
	}
	if err := r.db.Model(agent).Updates(updates).Error; err != nil {
		return nil, err
	}
	return r.FindByID(id)
}

// UpdateStatus records a status check. LastSeen only moves when the agent
// answered.
func (r *agentRepo) UpdateStatus(id, status string, seen time.Time) error {
	updates := map[string]interface{}{"status": status}
	if status == models.AgentStatusOnline {
		updates["last_seen"] = seen
	}
	result := r.db.Model(&models.Agent{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (r *agentRepo) Delete(id string) error {
	agent, err := r.FindByID(id)
	if err != nil {
		return err
	}
	if agent.Source == models.AgentSourceEnv {
		return ErrEnvAgent
	}
	return r.db.Delete(&models.Agent{}, "id = ?", id).Error
}

// Selected returns the selected agent. When none is selected, or the
// selection points at a deleted agent, the first agent becomes selected.
func (r *agentRepo) Selected() (*models.Agent, error) {
	var selected models.SelectedAgent
	err := r.db.Where("id = ?", 1).First(&selected).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil {
		agent, err := r.FindByID(selected.AgentID)
		if err == nil {
			return agent, nil
		}
		if !errors.Is(err, ErrAgentNotFound) {
			return nil, err
		}
	}

	var first models.Agent
	err = r.db.Order("number ASC").First(&first).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.SetSelected(first.ID); err != nil {
		return nil, err
	}
	return &first, nil
}

func (r *agentRepo) SetSelected(id string) error {
	if _, err := r.FindByID(id); err != nil {
		return err
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"agent_id", "updated_at"}),
	}).Create(&models.SelectedAgent{ID: 1, AgentID: id}).Error
}

// SyncEnvAgent creates or refreshes the agent configured through the
// environment. Nothing happens unless both url and token are set.
func (r *agentRepo) SyncEnvAgent(url, token, name string) (*models.Agent, error) {
	if url == "" || token == "" {
		return nil, nil
	}
	if name == "" {
		name = "Environment Agent"
	}

	var existing models.Agent
	err := r.db.Where("source = ?", models.AgentSourceEnv).First(&existing).Error
	switch {
	case err == nil:
		if err := r.db.Model(&existing).Updates(map[string]interface{}{
			"name":  name,
			"url":   url,
			"token": token,
		}).Error; err != nil {
			return nil, err
		}
		return r.FindByID(existing.ID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		agent := &models.Agent{
			ID:       envAgentID,
			Name:     name,
			URL:      url,
			Token:    token,
			Location: models.AgentLocationOnSite,
			Number:   1,
			Status:   models.AgentStatusChecking,
			Tags:     []string{},
			Source:   models.AgentSourceEnv,
		}
		if err := r.db.Create(agent).Error; err != nil {
			return nil, err
		}
		return agent, nil
	default:
		return nil, err
	}
}
