package table

import (
	"testing"

	"github.com/runledger/runledger/internal/partition"
)

// Partition placement belongs to the router; the key builders may only add
// the table's PK prefixes on top of it.
func TestKeyBuildersFollowRouter(t *testing.T) {
	if got, want := tenantPK("tenant-1"), pkTenantPrefix+partition.RouteRun("tenant-1"); got != want {
		t.Errorf("tenantPK = %q, want %q", got, want)
	}
	if got, want := runPK(partition.RouteTurn("tenant-1", "run-1")), pkRunPrefix+"run-1"; got != want {
		t.Errorf("run partition key = %q, want %q", got, want)
	}
}
