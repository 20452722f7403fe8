// Package capability detects which optional introspection features the
// target SQL Server supports and caches the result per connection target.
package capability

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/sqlctx/mssql-mcp/internal/sqlerr"
)

// ProbeSQL is the single statement used to detect server version and edition.
const ProbeSQL = `SELECT CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128)), CAST(SERVERPROPERTY('EngineEdition') AS int)`

// Engine editions reported by SERVERPROPERTY('EngineEdition') that track the
// latest feature set regardless of the version string.
const (
	engineEditionAzureSQL        = 5
	engineEditionAzureSQLManaged = 8
)

// Feature version thresholds (major version of the on-premises engine).
const (
	minVersionExactRowCount    = 10 // sys.dm_db_partition_stats
	minVersionDetailedIndexMD  = 11 // filtered indexes, usage stats joins
	minVersionTemporalTables   = 13 // system-versioned temporal tables
)

// Descriptor is an immutable record of the target server's feature support.
type Descriptor struct {
	MajorVersion                  int
	MinorVersion                  int
	EngineEdition                 int
	SupportsExactRowCount         bool
	SupportsDetailedIndexMetadata bool
	SupportsTemporalTables        bool
}

// FromVersion builds a Descriptor from the raw SERVERPROPERTY values.
// Unparseable versions yield the most conservative descriptor: all feature
// flags false. Azure engine editions get the full set since the service is
// always at or above the newest threshold.
func FromVersion(productVersion string, engineEdition int) Descriptor {
	d := Descriptor{EngineEdition: engineEdition}

	parts := strings.Split(strings.TrimSpace(productVersion), ".")
	if len(parts) >= 1 {
		if major, err := strconv.Atoi(parts[0]); err == nil {
			d.MajorVersion = major
		}
	}
	if len(parts) >= 2 {
		if minor, err := strconv.Atoi(parts[1]); err == nil {
			d.MinorVersion = minor
		}
	}

	if engineEdition == engineEditionAzureSQL || engineEdition == engineEditionAzureSQLManaged {
		d.SupportsExactRowCount = true
		d.SupportsDetailedIndexMetadata = true
		d.SupportsTemporalTables = true
		return d
	}

	d.SupportsExactRowCount = d.MajorVersion >= minVersionExactRowCount
	d.SupportsDetailedIndexMetadata = d.MajorVersion >= minVersionDetailedIndexMD
	d.SupportsTemporalTables = d.MajorVersion >= minVersionTemporalTables
	return d
}

// ProbeFunc queries the target and returns the raw product version string
// and engine edition.
type ProbeFunc func(ctx context.Context) (productVersion string, engineEdition int, err error)

// Detector memoizes one Descriptor per distinct connection target for the
// lifetime of the process. Safe for concurrent use.
type Detector struct {
	mu    sync.Mutex
	cache map[string]Descriptor
}

// NewDetector creates an empty Detector.
func NewDetector() *Detector {
	return &Detector{cache: make(map[string]Descriptor)}
}

// Detect returns the Descriptor for target, probing on first use only.
// A failed probe is not cached, so a transient outage does not pin a
// conservative descriptor for the process lifetime.
func (d *Detector) Detect(ctx context.Context, target string, probe ProbeFunc) (Descriptor, error) {
	d.mu.Lock()
	cached, ok := d.cache[target]
	d.mu.Unlock()
	if ok {
		return cached, nil
	}

	version, edition, err := probe(ctx)
	if err != nil {
		if sqlerr.KindOf(err) != sqlerr.KindUnknown {
			return Descriptor{}, err
		}
		return Descriptor{}, sqlerr.Wrap(sqlerr.KindConnection, err)
	}

	desc := FromVersion(version, edition)
	d.mu.Lock()
	d.cache[target] = desc
	d.mu.Unlock()
	return desc, nil
}
