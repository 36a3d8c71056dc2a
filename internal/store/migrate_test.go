// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwarden/tripwarden/pkg/errutil"
)

// mockMigrate implements migrateIface for testing.
type mockMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	steps          []int
	versionVal     uint
	versionErr     error
	dirty          bool
	forceErr       error
	forced         int
	closeSourceErr error
	closeDbErr     error
}

func (m *mockMigrate) Up() error   { return m.upErr }
func (m *mockMigrate) Down() error { return m.downErr }
func (m *mockMigrate) Steps(n int) error {
	m.steps = append(m.steps, n)
	return m.stepsErr
}
func (m *mockMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *mockMigrate) Force(v int) error {
	m.forced = v
	return m.forceErr
}
func (m *mockMigrate) Close() (error, error) { return m.closeSourceErr, m.closeDbErr }

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u@h/db", migrateURL("postgres://u@h/db"))
	assert.Equal(t, "pgx5://u@h/db", migrateURL("postgresql://u@h/db"))
	assert.Equal(t, "pgx5://u@h/db", migrateURL("pgx5://u@h/db"))
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/testdb")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrator_UpDown(t *testing.T) {
	tests := []struct {
		name    string
		mock    *mockMigrate
		run     func(*Migrator) error
		wantErr string
	}{
		{"up", &mockMigrate{}, (*Migrator).Up, ""},
		{"up no change", &mockMigrate{upErr: migrate.ErrNoChange}, (*Migrator).Up, ""},
		{"up failure", &mockMigrate{upErr: errors.New("syntax error")}, (*Migrator).Up, "MIGRATION_UP_FAILED"},
		{"down", &mockMigrate{}, (*Migrator).Down, ""},
		{"down no change", &mockMigrate{downErr: migrate.ErrNoChange}, (*Migrator).Down, ""},
		{"down failure", &mockMigrate{downErr: errors.New("locked")}, (*Migrator).Down, "MIGRATION_DOWN_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(&Migrator{m: tt.mock})
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantErr)
		})
	}
}

func TestMigrator_Steps(t *testing.T) {
	mock := &mockMigrate{}
	m := &Migrator{m: mock}

	require.NoError(t, m.Steps(0))
	assert.Empty(t, mock.steps, "zero steps must not touch the database")

	require.NoError(t, m.Steps(-1))
	assert.Equal(t, []int{-1}, mock.steps)

	mock.stepsErr = errors.New("boom")
	err := m.Steps(2)
	errutil.AssertErrorCode(t, err, "MIGRATION_STEPS_FAILED")
	errutil.AssertErrorContext(t, err, "steps", 2)
}

func TestMigrator_Version(t *testing.T) {
	v, dirty, err := (&Migrator{m: &mockMigrate{versionVal: 1, dirty: true}}).Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.True(t, dirty)

	v, _, err = (&Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}).Version()
	require.NoError(t, err)
	assert.Zero(t, v)

	_, _, err = (&Migrator{m: &mockMigrate{versionErr: errors.New("down")}}).Version()
	errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
}

func TestMigrator_Force(t *testing.T) {
	mock := &mockMigrate{}
	m := &Migrator{m: mock}

	require.NoError(t, m.Force(1))
	assert.Equal(t, 1, mock.forced)

	errutil.AssertErrorCode(t, m.Force(-1), "INVALID_VERSION")

	mock.forceErr = errors.New("nope")
	errutil.AssertErrorCode(t, m.Force(1), "MIGRATION_FORCE_FAILED")
}

func TestMigrator_Status(t *testing.T) {
	all, err := migrationVersions()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	st, err := (&Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}).Status()
	require.NoError(t, err)
	assert.Zero(t, st.Version)
	assert.Empty(t, st.Applied)
	assert.Equal(t, all, st.Pending)

	latest := all[len(all)-1]
	st, err = (&Migrator{m: &mockMigrate{versionVal: latest}}).Status()
	require.NoError(t, err)
	assert.Equal(t, all, st.Applied)
	assert.Empty(t, st.Pending)
	assert.Equal(t, "000001_trips", st.Name)
}

func TestMigrator_Close(t *testing.T) {
	require.NoError(t, (&Migrator{m: &mockMigrate{}}).Close())

	err := (&Migrator{m: &mockMigrate{closeSourceErr: errors.New("src"), closeDbErr: errors.New("db")}}).Close()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
	assert.Contains(t, err.Error(), "src")
	assert.Contains(t, err.Error(), "db")
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(1)
	require.NoError(t, err)
	assert.Equal(t, "000001_trips", name)

	name, err = MigrationName(999)
	require.NoError(t, err)
	assert.Empty(t, name)
}
