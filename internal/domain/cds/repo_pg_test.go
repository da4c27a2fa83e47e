package cds

import (
	"strings"
	"testing"
)

func TestAlertSelectColsCoalesceNullables(t *testing.T) {
	for _, col := range []string{"encounter_id", "actor_id", "override_reason", "notes"} {
		if !strings.Contains(alertSelectCols, "COALESCE("+col+", '')") {
			t.Errorf("%s must be coalesced before scanning into a string", col)
		}
	}
}

func TestAlertColumnListsMatch(t *testing.T) {
	insert := strings.Count(alertCols, ",") + 1
	// Each COALESCE wraps one column and adds one comma of its own.
	sel := strings.Count(alertSelectCols, ",") + 1 - strings.Count(alertSelectCols, "COALESCE")
	if insert != sel {
		t.Errorf("insert lists %d columns, select lists %d", insert, sel)
	}
}
