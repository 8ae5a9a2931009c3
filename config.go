package forge

import (
	"runtime"

	"github.com/TheBitDrifter/table"
)

// Config holds global configuration for the table system, the way the
// teacher's config.go already does for table events; the scheduler's thread
// count is a per-App build-time setting instead (SchedulerBuilder), since
// unlike table events it is not process-global.
var Config config = config{}

type config struct {
	tableEvents table.TableEvents
}

// SetTableEvents configures the table event callbacks, letting a host
// application observe archetype-table construction without this package
// importing a logging library itself.
func (c *config) SetTableEvents(te table.TableEvents) {
	c.tableEvents = te
}

// clampThreadCount applies §4.8's "0 is raised to 1, higher values are
// capped at the host capability" rule.
func clampThreadCount(requested uint32) uint32 {
	if requested == 0 {
		return 1
	}
	if max := uint32(runtime.NumCPU()); requested > max {
		return max
	}
	return requested
}
