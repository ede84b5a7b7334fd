package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Ordered(t *testing.T) {
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "versions are consecutive")
		assert.NotEmpty(t, strings.TrimSpace(m.SQL))
	}
}

func TestMigrations_CreateEveryTable(t *testing.T) {
	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.SQL)
	}
	for _, table := range []string{
		"users", "requests", "log_entries", "votes", "members", "admin_sessions", "admin_login_attempts",
		"thread_messages",
	} {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}
