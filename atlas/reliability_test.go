package atlas

import "testing"

func TestReliabilityReportScore(t *testing.T) {
	tests := []struct {
		sent, success uint32
		want          uint32
	}{
		{0, 0, 0},
		{1, 1, 2},
		{10, 5, 10},
		{10, 10, 11},
	}
	for _, tt := range tests {
		r := NewReliabilityReport(tt.sent, tt.success)
		if got := r.Score(); got != tt.want {
			t.Errorf("Score(sent=%d,success=%d) = %d, want %d", tt.sent, tt.success, got, tt.want)
		}
	}
}

func TestReliabilityReportCompareTo(t *testing.T) {
	low := NewReliabilityReport(10, 1)
	high := NewReliabilityReport(10, 9)

	if low.CompareTo(high) >= 0 {
		t.Fatal("expected a less-successful report to compare less than a more-successful one")
	}
	if high.CompareTo(low) <= 0 {
		t.Fatal("expected CompareTo to be antisymmetric")
	}
	if low.CompareTo(low) != 0 {
		t.Fatal("expected equal reports to compare equal")
	}
}

func TestReliabilityReportBump(t *testing.T) {
	var r ReliabilityReport
	r.BumpSuccessfulRequests()
	r.BumpFailedRequests()

	if r.TotalRequestsSent != 2 {
		t.Fatalf("expected 2 sent, got %d", r.TotalRequestsSent)
	}
	if r.TotalRequestsSuccess != 1 {
		t.Fatalf("expected 1 success, got %d", r.TotalRequestsSuccess)
	}
}
