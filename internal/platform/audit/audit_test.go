package audit

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cds/cds/internal/domain/cds"
)

type stubSink struct {
	calls int
	err   error
}

func (s *stubSink) LogAlertAction(context.Context, string, cds.Alert, string) error {
	s.calls++
	return s.err
}

func TestZerologSink_LogsActionFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewZerologSink(zerolog.New(&buf))

	a := cds.Alert{
		RuleID:    "int-warfarin-nsaids",
		Category:  cds.CategoryDrugInteraction,
		Severity:  cds.SeverityHigh,
		PatientID: "p1",
		Notes:     "seen on rounds",
	}
	if err := sink.LogAlertAction(context.Background(), "ACKNOWLEDGED", a, "dr-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"ACKNOWLEDGED", "int-warfarin-nsaids", "DRUG_INTERACTION", "seen on rounds", "dr-a"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestFanout_ReturnsFirstError(t *testing.T) {
	ok := &stubSink{}
	bad := &stubSink{err: fmt.Errorf("audit store down")}
	after := &stubSink{}

	err := Fanout{ok, bad, after}.LogAlertAction(context.Background(), "TRIGGERED", cds.Alert{}, "")
	if err == nil || err.Error() != "audit store down" {
		t.Errorf("err = %v, want first sink error", err)
	}
	if ok.calls != 1 || bad.calls != 1 || after.calls != 1 {
		t.Errorf("calls = (%d, %d, %d), want every sink called once", ok.calls, bad.calls, after.calls)
	}
}
