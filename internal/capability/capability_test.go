package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
)

func TestFromVersionTiers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		version       string
		edition       int
		wantMajor     int
		wantRowCount  bool
		wantIndexMD   bool
		wantTemporal  bool
	}{
		{"sql2005", "9.0.5000", 3, 9, false, false, false},
		{"sql2008r2", "10.50.1600", 3, 10, true, false, false},
		{"sql2012", "11.0.7001", 3, 11, true, true, false},
		{"sql2016", "13.0.5026", 3, 13, true, true, true},
		{"sql2022", "16.0.1000", 3, 16, true, true, true},
		{"azure_sql", "12.0.2000", 5, 12, true, true, true},
		{"azure_managed", "12.0.2000", 8, 12, true, true, true},
		{"garbage", "not-a-version", 3, 0, false, false, false},
		{"empty", "", 3, 0, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := FromVersion(tt.version, tt.edition)
			if d.MajorVersion != tt.wantMajor {
				t.Errorf("MajorVersion = %d, want %d", d.MajorVersion, tt.wantMajor)
			}
			if d.SupportsExactRowCount != tt.wantRowCount {
				t.Errorf("SupportsExactRowCount = %v, want %v", d.SupportsExactRowCount, tt.wantRowCount)
			}
			if d.SupportsDetailedIndexMetadata != tt.wantIndexMD {
				t.Errorf("SupportsDetailedIndexMetadata = %v, want %v", d.SupportsDetailedIndexMetadata, tt.wantIndexMD)
			}
			if d.SupportsTemporalTables != tt.wantTemporal {
				t.Errorf("SupportsTemporalTables = %v, want %v", d.SupportsTemporalTables, tt.wantTemporal)
			}
		})
	}
}

func TestFromVersionMinor(t *testing.T) {
	t.Parallel()
	d := FromVersion("10.50.1600", 3)
	if d.MinorVersion != 50 {
		t.Errorf("MinorVersion = %d, want 50", d.MinorVersion)
	}
}

func TestDetectMemoizesPerTarget(t *testing.T) {
	t.Parallel()
	calls := 0
	probe := func(ctx context.Context) (string, int, error) {
		calls++
		return "15.0.4000", 3, nil
	}

	det := NewDetector()
	for i := 0; i < 5; i++ {
		d, err := det.Detect(context.Background(), "server-a", probe)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.MajorVersion != 15 {
			t.Fatalf("MajorVersion = %d, want 15", d.MajorVersion)
		}
	}
	if calls != 1 {
		t.Errorf("probe called %d times, want 1 (memoized)", calls)
	}

	// A second target probes independently.
	if _, err := det.Detect(context.Background(), "server-b", probe); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("probe called %d times, want 2 (one per target)", calls)
	}
}

func TestDetectFailureNotCached(t *testing.T) {
	t.Parallel()
	calls := 0
	failing := func(ctx context.Context) (string, int, error) {
		calls++
		if calls == 1 {
			return "", 0, errors.New("network unreachable")
		}
		return "14.0.2000", 3, nil
	}

	det := NewDetector()
	_, err := det.Detect(context.Background(), "flaky", failing)
	if err == nil {
		t.Fatal("expected error from failed probe")
	}
	if !sqlerr.Is(err, sqlerr.KindConnection) {
		t.Errorf("expected KindConnection, got %v", sqlerr.KindOf(err))
	}

	d, err := det.Detect(context.Background(), "flaky", failing)
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if d.MajorVersion != 14 {
		t.Errorf("MajorVersion = %d, want 14", d.MajorVersion)
	}
}
