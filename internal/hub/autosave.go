package hub

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"whiteboard-backend/internal/logger"
)

// Autosave schedules the periodic save tick of every active room.
type Autosave struct {
	cron *cron.Cron
	spec string
}

// NewAutosave starts the scheduler. Intervals below one second are rounded up
// by cron.
func NewAutosave(interval time.Duration, log zerolog.Logger) *Autosave {
	c := cron.New(cron.WithLogger(
		cron.PrintfLogger(logger.Writer(log, "autosave", zerolog.WarnLevel)),
	))
	c.Start()
	return &Autosave{
		cron: c,
		spec: fmt.Sprintf("@every %s", interval),
	}
}

// Add registers fn to run on every tick.
func (a *Autosave) Add(fn func()) (cron.EntryID, error) {
	return a.cron.AddFunc(a.spec, fn)
}

// Remove cancels an entry. Unknown ids are ignored.
func (a *Autosave) Remove(id cron.EntryID) {
	if id == 0 {
		return
	}
	a.cron.Remove(id)
}

// Len reports the number of scheduled entries.
func (a *Autosave) Len() int {
	return len(a.cron.Entries())
}

// Stop halts the scheduler and waits for running ticks.
func (a *Autosave) Stop() {
	<-a.cron.Stop().Done()
}
