package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRole(t *testing.T) {
	for _, in := range []string{"super_admin", "SUPER_ADMIN", "SuperAdmin", "super-admin", "Super Admin", " superadmin "} {
		assert.Equal(t, RoleSuperAdmin, NormalizeRole(in), in)
	}
	assert.Equal(t, Role("support"), NormalizeRole(" Support "))
	assert.NotEqual(t, RoleSuperAdmin, NormalizeRole("super_admin_readonly"))
}

func TestClassify(t *testing.T) {
	assert.True(t, classify([]string{"support", "Super-Admin"}).IsSuperAdmin)
	assert.False(t, classify([]string{"support"}).IsSuperAdmin)
	assert.False(t, classify(nil).IsSuperAdmin)
}

func TestPrincipal_EffectiveSubject(t *testing.T) {
	var nilP *Principal
	assert.Empty(t, nilP.SubjectID())
	assert.Empty(t, nilP.TenantRole())
}
