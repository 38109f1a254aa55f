package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole("supervisor")
	require.NoError(t, err)
	assert.Equal(t, RoleSupervisor, r)

	_, err = ParseRole("admin")
	assert.Error(t, err)
	assert.False(t, Role("").Valid())
}

func TestCanCompleteTask(t *testing.T) {
	cases := []struct {
		role      Role
		recipient Role
		want      bool
	}{
		{RoleDirector, RoleDirector, true},
		{RoleTechnician, RoleDirector, false},
		{RoleSupervisor, RoleDirector, false},
		{RoleTechnician, RoleTechnician, true},
		{RoleSupervisor, RoleTechnician, true},
		{RoleDirector, RoleTechnician, false},
		// 未设置接收方：兼容旧数据，按 technician 处理
		{RoleTechnician, "", true},
		{RoleSupervisor, "", true},
		{RoleDirector, "", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanCompleteTask(c.role, c.recipient), "%s completing %q", c.role, c.recipient)
	}
}
