package repositories

import (
	"testing"
	"time"

	"traefiklens/internal/database/models"
	"traefiklens/internal/filter"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Agent{}, &models.SelectedAgent{}, &models.FilterSettingsRecord{}, &models.LogSource{}))
	return db
}

func TestAgentRepository_CreateNumbersAgents(t *testing.T) {
	repo := NewAgentRepository(newTestDB(t))

	first := &models.Agent{Name: "edge", URL: "http://edge:5000"}
	require.NoError(t, repo.Create(first))
	second := &models.Agent{Name: "core", URL: "http://core:5000", Location: models.AgentLocationOffSite, Tags: []string{"eu"}}
	require.NoError(t, repo.Create(second))

	assert.Equal(t, "agent-001", first.ID)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, models.AgentStatusChecking, first.Status)
	assert.Equal(t, models.AgentSourceManual, first.Source)
	assert.Equal(t, models.AgentLocationOnSite, first.Location)
	assert.Equal(t, "agent-002", second.ID)

	agents, err := repo.FindAll()
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "edge", agents[0].Name)
	assert.Equal(t, []string{"eu"}, agents[1].Tags)
}

func TestAgentRepository_Update(t *testing.T) {
	repo := NewAgentRepository(newTestDB(t))
	agent := &models.Agent{Name: "edge", URL: "http://edge:5000", Token: "secret"}
	require.NoError(t, repo.Create(agent))

	name := "edge-1"
	tags := []string{"prod", "eu"}
	updated, err := repo.Update(agent.ID, AgentUpdate{Name: &name, Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, "edge-1", updated.Name)
	assert.Equal(t, "http://edge:5000", updated.URL)
	assert.Equal(t, "secret", updated.Token)
	assert.Equal(t, tags, updated.Tags)

	_, err = repo.Update("agent-404", AgentUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestAgentRepository_UpdateStatus(t *testing.T) {
	repo := NewAgentRepository(newTestDB(t))
	agent := &models.Agent{Name: "edge", URL: "http://edge:5000"}
	require.NoError(t, repo.Create(agent))

	seen := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateStatus(agent.ID, models.AgentStatusOnline, seen))
	require.NoError(t, repo.UpdateStatus(agent.ID, models.AgentStatusOffline, seen.Add(time.Hour)))

	got, err := repo.FindByID(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOffline, got.Status)
	require.NotNil(t, got.LastSeen)
	assert.True(t, got.LastSeen.Equal(seen), "offline checks keep the last successful contact")

	assert.ErrorIs(t, repo.UpdateStatus("agent-404", models.AgentStatusOnline, seen), ErrAgentNotFound)
}

func TestAgentRepository_EnvAgent(t *testing.T) {
	repo := NewAgentRepository(newTestDB(t))

	none, err := repo.SyncEnvAgent("", "token", "")
	require.NoError(t, err)
	assert.Nil(t, none)

	env, err := repo.SyncEnvAgent("http://agent:5000", "t1", "")
	require.NoError(t, err)
	assert.Equal(t, "agent-env-001", env.ID)
	assert.Equal(t, "Environment Agent", env.Name)
	assert.Equal(t, models.AgentSourceEnv, env.Source)

	env, err = repo.SyncEnvAgent("http://agent:6000", "t2", "Primary")
	require.NoError(t, err)
	assert.Equal(t, "http://agent:6000", env.URL)
	assert.Equal(t, "t2", env.Token)
	assert.Equal(t, "Primary", env.Name)

	manual := &models.Agent{Name: "edge", URL: "http://edge:5000"}
	require.NoError(t, repo.Create(manual))
	assert.Equal(t, "agent-002", manual.ID)

	assert.ErrorIs(t, repo.Delete(env.ID), ErrEnvAgent)
	require.NoError(t, repo.Delete(manual.ID))
	assert.ErrorIs(t, repo.Delete(manual.ID), ErrAgentNotFound)

	agents, err := repo.FindAll()
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestAgentRepository_Selection(t *testing.T) {
	repo := NewAgentRepository(newTestDB(t))

	_, err := repo.Selected()
	assert.ErrorIs(t, err, ErrAgentNotFound)

	a := &models.Agent{Name: "a", URL: "http://a"}
	b := &models.Agent{Name: "b", URL: "http://b"}
	require.NoError(t, repo.Create(a))
	require.NoError(t, repo.Create(b))

	selected, err := repo.Selected()
	require.NoError(t, err)
	assert.Equal(t, a.ID, selected.ID, "falls back to the first agent")

	require.NoError(t, repo.SetSelected(b.ID))
	selected, err = repo.Selected()
	require.NoError(t, err)
	assert.Equal(t, b.ID, selected.ID)

	assert.ErrorIs(t, repo.SetSelected("agent-404"), ErrAgentNotFound)

	require.NoError(t, repo.Delete(b.ID))
	selected, err = repo.Selected()
	require.NoError(t, err)
	assert.Equal(t, a.ID, selected.ID, "a deleted selection falls back")
}

func TestSettingsRepository(t *testing.T) {
	repo := NewSettingsRepository(newTestDB(t))

	_, err := repo.Get()
	assert.ErrorIs(t, err, ErrNoSettings)

	settings := filter.DefaultSettings()
	settings.ExcludedIPs = []string{"10.0.0.1"}
	settings.ExcludeBots = true
	settings.CustomConditions = []filter.Condition{{
		ID: "c1", Name: "health", Enabled: true, Type: filter.ConditionCustom,
		Field: "RequestPath", Operator: filter.OpEquals, Value: "/health",
	}}
	require.NoError(t, repo.Save(settings))

	got, err := repo.Get()
	require.NoError(t, err)
	assert.Equal(t, settings, got)

	settings.ExcludeBots = false
	require.NoError(t, repo.Save(settings))
	got, err = repo.Get()
	require.NoError(t, err)
	assert.False(t, got.ExcludeBots)
}

func TestLogSourceRepository(t *testing.T) {
	repo := NewLogSourceRepository(newTestDB(t))

	src, err := repo.FindByName("traefik-access")
	require.NoError(t, err)
	assert.Nil(t, src)

	require.NoError(t, repo.UpdateTracking("traefik-access", "/logs/access.log", 120, 77))
	require.NoError(t, repo.UpdateTracking("traefik-access", "/logs/access.log", 480, 77))

	src, err = repo.FindByName("traefik-access")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, int64(480), src.LastPosition)
	assert.Equal(t, int64(77), src.LastInode)
	assert.NotNil(t, src.LastReadAt)
}
