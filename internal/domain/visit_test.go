package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisitControls_PlannedVisitLockedForTechnician(t *testing.T) {
	v := Visit{ID: "v1", Type: VisitPlanned}
	c := VisitControls(RoleTechnician, &v)
	assert.Equal(t, BadgePlanned, c.Badge)
	assert.True(t, c.Locked)
	assert.False(t, c.CanDelete)
	assert.True(t, VisitControls(RoleDirector, &v).CanDelete)
}

func TestVisitControls_TechnicianTask(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	task, err := NewTask("t1", TaskInput{Description: "Replace filter", Recipient: RoleTechnician},
		Session{Role: RoleDirector, Name: "Boss"}, now)
	require.NoError(t, err)

	tech := VisitControls(RoleTechnician, &task)
	assert.True(t, tech.CanComplete)
	assert.False(t, tech.CanEdit)
	assert.False(t, tech.Locked)
	assert.Equal(t, BadgeTask, tech.Badge)

	dir := VisitControls(RoleDirector, &task)
	assert.False(t, dir.CanComplete)
	assert.True(t, dir.CanEdit)
	assert.True(t, dir.CanDelete)
}

func TestCompleteTask_ExactlyOnce(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	task, err := NewTask("t1", TaskInput{Description: "Check alarm"}, Session{Role: RoleDirector, Name: "Boss"}, now)
	require.NoError(t, err)
	assert.Equal(t, RoleTechnician, task.TaskRecipient)

	tech := Session{Role: RoleTechnician, Name: "Ivan"}
	assert.True(t, IsValidation(CompleteTask(&task, tech, "", []string{"p"}, now)))
	assert.True(t, IsValidation(CompleteTask(&task, tech, "done", nil, now)))
	assert.False(t, task.TaskCompleted)

	assert.ErrorIs(t, CompleteTask(&task, Session{Role: RoleDirector}, "done", []string{"p"}, now), ErrForbidden)

	require.NoError(t, CompleteTask(&task, tech, "done", []string{"p"}, now))
	assert.True(t, task.TaskCompleted)
	assert.Equal(t, "Ivan", task.TaskCompletedBy)
	assert.Equal(t, BadgeTaskCompleted, Badge(&task))

	assert.ErrorIs(t, CompleteTask(&task, tech, "again", []string{"q"}, now), ErrTaskCompleted)
	assert.Equal(t, "done", task.Comment)
}

func TestNewVisit_Validation(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	author := Session{Role: RoleTechnician, Name: "Ivan"}

	_, err := NewVisit("v", VisitInput{Type: VisitTask, Comment: "ok", Media: []string{"p"}}, author, now)
	assert.True(t, IsValidation(err))
	_, err = NewVisit("v", VisitInput{Type: VisitPlanned, Comment: "  ", Media: []string{"p"}}, author, now)
	assert.True(t, IsValidation(err))
	_, err = NewVisit("v", VisitInput{Type: VisitPlanned, Comment: "ok"}, author, now)
	assert.True(t, IsValidation(err))

	v, err := NewVisit("v", VisitInput{Type: VisitUnplanned, Comment: "ok", Media: []string{"data:video/mp4;base64,AAAA"}}, author, now)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", v.Date)
	assert.Equal(t, "Ivan", v.CreatedBy)
}

func TestNewInstallationDay_Numbering(t *testing.T) {
	now := time.Now()
	author := Session{Role: RoleTechnician, Name: "Ivan"}
	obj := SiteObject{ID: "o", ObjectType: ObjectInstallation}

	for i := 1; i <= 3; i++ {
		d, err := NewInstallationDay("d", &obj, "work", []string{"p"}, author, now)
		require.NoError(t, err)
		assert.Equal(t, i, d.DayNumber)
		obj.InstallationDays = append(obj.InstallationDays, d)
	}

	regular := SiteObject{ID: "r"}
	_, err := NewInstallationDay("d", &regular, "work", []string{"p"}, author, now)
	assert.True(t, IsValidation(err))
}
