package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/formpilot/backend/internal/config"
	"github.com/zhouzirui/formpilot/backend/internal/service/ai"
)

func TestResolvePasswordPrefersEnvironment(t *testing.T) {
	password, err := resolvePassword(context.Background(), config.AuthConfig{Password: "123456", PasswordParam: "/unused"})
	require.NoError(t, err)
	require.Equal(t, "123456", password)

	password, err = resolvePassword(context.Background(), config.AuthConfig{})
	require.NoError(t, err)
	require.Empty(t, password)
}

func TestNewEngineFallsBackToScripted(t *testing.T) {
	engine, err := newEngine(context.Background(), config.AIConfig{Provider: config.ProviderArk})
	require.NoError(t, err)
	require.IsType(t, &ai.Scripted{}, engine)

	engine, err = newEngine(context.Background(), config.AIConfig{Provider: config.ProviderScripted, Model: "m", APIKey: "k"})
	require.NoError(t, err)
	require.IsType(t, &ai.Scripted{}, engine)
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	require.NotNil(t, cmd.Flags().Lookup("env-file"))
	require.NotNil(t, cmd.Flags().Lookup("addr"))
}
