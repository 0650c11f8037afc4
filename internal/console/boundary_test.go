package console

import (
	"testing"

	"estatedesk/testutil"
)

func TestNoInfraImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "console reaches storage through pkg/listing and internal/blob")
}
