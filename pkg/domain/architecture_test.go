package domain

import (
	"strings"
	"testing"

	"labos/testutil"
)

// TestDomainStaysFreeOfInfrastructure keeps the domain model at the
// bottom of the dependency graph: no internal packages, no storage or
// transport libraries.
func TestDomainStaysFreeOfInfrastructure(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", func(importPath string) bool {
		return strings.HasPrefix(importPath, "labos/")
	}, "pkg/domain must not depend on any other labos package")
}
