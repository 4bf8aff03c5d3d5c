package graph

import (
	"math"
	"time"
)

// Dependency relation codes understood by slip propagation.
const (
	FinishToStart  = "FS"
	StartToStart   = "SS"
	FinishToFinish = "FF"
)

const day = 24 * time.Hour

// Window is a planned start/end pair.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) shift(days int) Window {
	d := time.Duration(days) * day
	return Window{Start: w.Start.Add(d), End: w.End.Add(d)}
}

// DaysBetween returns the whole days from a to b, rounding partial days up. Negative when
// b is before a.
func DaysBetween(a, b time.Time) int {
	return int(math.Ceil(b.Sub(a).Hours() / 24))
}

// PropagateSlip pushes a delay of delayDays on source through its downstream units and
// returns the projected slip in days of every affected unit (source included, zero-slip
// units omitted).
//
// A successor must start no earlier than predecessor end + lag (FS) or predecessor start +
// lag (SS), and finish no earlier than predecessor end + lag (FF). Units without a window
// inherit the largest slip of their predecessors.
func (g *Graph) PropagateSlip(source string, delayDays int, windows map[string]Window, limits Limits) (map[string]int, error) {
	slip := map[string]int{}
	if delayDays <= 0 {
		return slip, nil
	}
	reach, err := g.Reachable(source, Downstream, limits)
	if err != nil {
		return nil, err
	}
	subset := map[string]struct{}{source: {}}
	for _, id := range reach {
		subset[id] = struct{}{}
	}
	order, err := g.topo(subset)
	if err != nil {
		return nil, err
	}

	projected := make(map[string]Window, len(subset))
	slip[source] = delayDays
	if w, ok := windows[source]; ok {
		projected[source] = w.shift(delayDays)
	}

	for _, id := range order {
		if id == source {
			continue
		}
		own, hasOwn := windows[id]
		best := 0
		for _, e := range g.in[id] {
			if _, ok := subset[e.From]; !ok {
				continue
			}
			pw, ok := projected[e.From]
			if !ok || !hasOwn {
				if s := slip[e.From]; s > best {
					best = s
				}
				continue
			}
			lag := time.Duration(e.Lag) * day
			var need int
			switch e.Type {
			case StartToStart:
				need = DaysBetween(own.Start, pw.Start.Add(lag))
			case FinishToFinish:
				need = DaysBetween(own.End, pw.End.Add(lag))
			default:
				need = DaysBetween(own.Start, pw.End.Add(lag))
			}
			if need > best {
				best = need
			}
		}
		if best > 0 {
			slip[id] = best
		}
		if hasOwn {
			projected[id] = own.shift(best)
		}
	}
	return slip, nil
}
