package jobs

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gdscore/scoreboard-server/internal/metrics"
)

type SessionCounter interface {
	Len() int
}

type ConnectionCounter interface {
	Total() int
}

// StatsJob periodically publishes session and connection counts to the gauges
// and the log.
type StatsJob struct {
	sessions    SessionCounter
	connections ConnectionCounter
	interval    time.Duration
	clock       clockwork.Clock
	done        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewStatsJob(sessions SessionCounter, connections ConnectionCounter, interval time.Duration, clock clockwork.Clock) *StatsJob {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StatsJob{
		sessions:    sessions,
		connections: connections,
		interval:    interval,
		clock:       clock,
		done:        make(chan struct{}),
	}
}

func (j *StatsJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("stats job started")
}

func (j *StatsJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("stats job stopped")
	})
}

func (j *StatsJob) run() {
	defer j.wg.Done()

	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()

	j.report()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.Chan():
			j.report()
		}
	}
}

func (j *StatsJob) report() {
	sessions := j.sessions.Len()
	connections := j.connections.Total()

	metrics.SetSessions(sessions)
	metrics.SetConnections(connections)

	log.Info().
		Int("sessions", sessions).
		Int("connections", connections).
		Msg("scoreboard stats")
}
