// Package stats exposes the gateway's counters over expvar. Counter
// updates are funneled through a channel so callers never block on the
// expvar map.
package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars    *expvar.Map
	updates chan counterUpdate
}

type counterUpdate struct {
	name  string
	delta int64
}

func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:    expvar.NewMap("messaging-stats"),
		updates: make(chan counterUpdate, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))

	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	return su
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// RegisterMetric declares a counter. Updates to undeclared counters are
// dropped.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, expvar.NewInt(name))
}

func (su *StatsUpdater) Incr(name string) {
	su.update(counterUpdate{name: name, delta: 1})
}

func (su *StatsUpdater) Decr(name string) {
	su.update(counterUpdate{name: name, delta: -1})
}

// update drops the delta rather than blocking when the queue is full;
// counters are diagnostics, not accounting.
func (su *StatsUpdater) update(u counterUpdate) {
	select {
	case su.updates <- u:
	default:
	}
}

func (su *StatsUpdater) applyUpdates() {
	for u := range su.updates {
		if metric, ok := su.vars.Get(u.name).(*expvar.Int); ok {
			metric.Add(u.delta)
		}
	}
}

func (su *StatsUpdater) Run() {
	go su.applyUpdates()
}

func (su *StatsUpdater) Stop() {
	close(su.updates)
}
