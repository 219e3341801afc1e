package opt

import (
	"errors"
	"time"

	"ecollect/internal/metrics"
)

// Integer quantization applied before solving: minutes are truncated,
// weights scaled by 100 (10g resolution), volumes by 10000 (0.1l). The
// same scale must be used for demands and capacity limits.
const (
	weightScale = 100
	volumeScale = 10000
)

// Defaults for the router.
const (
	DefaultServiceMin = 15
	DefaultSlackMin   = 120
	DefaultBudget     = time.Second
)

// Stop is a candidate visit: location is implicit in the matrices, the
// window is in minutes-of-day, demands in physical units.
type Stop struct {
	ID          string
	WindowStart int
	WindowEnd   int
	WeightKg    float64
	VolumeM3    float64
}

// RouteProblem is one vehicle, one depot (matrix index 0), n stops (stop i
// maps to matrix index i+1).
type RouteProblem struct {
	DistKm [][]float64
	DurMin [][]float64
	Stops  []Stop

	CapacityKg float64
	CapacityM3 float64
	ShiftStart int // minutes of day
	ShiftEnd   int

	ServiceMin int           // per-stop service time; 0 means DefaultServiceMin
	SlackMin   int           // max waiting between stops; 0 means DefaultSlackMin
	TimeBudget time.Duration // search budget; 0 means DefaultBudget
}

var (
	// ErrInfeasible reports that no visiting order satisfies the window
	// and capacity constraints within the search budget.
	ErrInfeasible = errors.New("no feasible route")
	// ErrDegenerateWindow rejects input whose window upper bound
	// precedes its lower bound.
	ErrDegenerateWindow = errors.New("degenerate time window")
)

type solverState struct {
	p          RouteProblem
	service    int
	slack      int
	weights    []int64 // quantized, per stop
	volumes    []int64
	capWeight  int64
	capVolume  int64
	durMin     [][]int // truncated minutes
	winStart   []int
	winEnd     []int
	shiftStart int
	shiftEnd   int
}

// SolveRoute returns a distance-minimizing visiting order (stop indices,
// depot excluded) honoring time windows and both capacity dimensions.
// Zero stops short-circuit to an empty route without touching the solver.
func SolveRoute(p RouteProblem) ([]int, error) {
	if len(p.Stops) == 0 {
		return []int{}, nil
	}
	st, err := newState(p)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { metrics.SolverDuration.Observe(time.Since(start).Seconds()) }()

	order, ok := st.construct()
	if !ok {
		metrics.SolverRuns.WithLabelValues("infeasible").Inc()
		return nil, ErrInfeasible
	}
	deadline := start.Add(st.budget())
	order = st.improve(order, deadline)
	metrics.SolverRuns.WithLabelValues("feasible").Inc()
	return order, nil
}

func newState(p RouteProblem) (*solverState, error) {
	n := len(p.Stops)
	if len(p.DistKm) != n+1 || len(p.DurMin) != n+1 {
		return nil, errors.New("matrix size must be len(stops)+1")
	}
	st := &solverState{
		p:          p,
		service:    p.ServiceMin,
		slack:      p.SlackMin,
		shiftStart: p.ShiftStart,
		shiftEnd:   p.ShiftEnd,
		capWeight:  int64(p.CapacityKg * weightScale),
		capVolume:  int64(p.CapacityM3 * volumeScale),
	}
	if st.service <= 0 {
		st.service = DefaultServiceMin
	}
	if st.slack <= 0 {
		st.slack = DefaultSlackMin
	}
	st.weights = make([]int64, n)
	st.volumes = make([]int64, n)
	st.winStart = make([]int, n)
	st.winEnd = make([]int, n)
	var totalW, totalV int64
	for i, s := range p.Stops {
		if s.WindowEnd < s.WindowStart {
			return nil, ErrDegenerateWindow
		}
		ws, we := s.WindowStart, s.WindowEnd
		if ws < p.ShiftStart {
			ws = p.ShiftStart // negative offset from shift clamps to zero
		}
		st.winStart[i] = ws
		st.winEnd[i] = we
		st.weights[i] = int64(s.WeightKg * weightScale)
		st.volumes[i] = int64(s.VolumeM3 * volumeScale)
		totalW += st.weights[i]
		totalV += st.volumes[i]
	}
	if totalW > st.capWeight || totalV > st.capVolume {
		return nil, ErrInfeasible
	}
	st.durMin = make([][]int, n+1)
	for i := range p.DurMin {
		row := make([]int, n+1)
		for j, v := range p.DurMin[i] {
			row[j] = int(v) // truncate
		}
		st.durMin[i] = row
	}
	return st, nil
}

func (st *solverState) budget() time.Duration {
	if st.p.TimeBudget > 0 {
		return st.p.TimeBudget
	}
	return DefaultBudget
}

// schedule simulates the order, returning feasibility. Waiting for a
// window to open is allowed up to the slack bound.
func (st *solverState) schedule(order []int) bool {
	t := st.shiftStart
	prev := 0 // depot
	for _, idx := range order {
		arr := t + st.durMin[prev][idx+1]
		if arr < st.winStart[idx] {
			if st.winStart[idx]-arr > st.slack {
				return false
			}
			arr = st.winStart[idx]
		}
		if arr > st.winEnd[idx] {
			return false
		}
		t = arr + st.service
		if t > st.shiftEnd {
			return false
		}
		prev = idx + 1
	}
	return true
}

// ArrivalTimes returns per-stop arrival minutes for a feasible order.
func (st *solverState) arrivalTimes(order []int) []int {
	out := make([]int, len(order))
	t := st.shiftStart
	prev := 0
	for i, idx := range order {
		arr := t + st.durMin[prev][idx+1]
		if arr < st.winStart[idx] {
			arr = st.winStart[idx]
		}
		out[i] = arr
		t = arr + st.service
		prev = idx + 1
	}
	return out
}

func (st *solverState) distance(order []int) float64 {
	total := 0.0
	prev := 0
	for _, idx := range order {
		total += st.p.DistKm[prev][idx+1]
		prev = idx + 1
	}
	return total
}

// construct builds a seed order by cheapest feasible arc, falling back to
// a best-position insertion scan for stops the greedy append strands.
func (st *solverState) construct() ([]int, bool) {
	n := len(st.p.Stops)
	used := make([]bool, n)
	order := make([]int, 0, n)
	for len(order) < n {
		prev := 0
		if len(order) > 0 {
			prev = order[len(order)-1] + 1
		}
		best, bestDist := -1, 0.0
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			cand := append(append([]int{}, order...), i)
			if !st.schedule(cand) {
				continue
			}
			d := st.p.DistKm[prev][i+1]
			if best == -1 || d < bestDist {
				best, bestDist = i, d
			}
		}
		if best >= 0 {
			order = append(order, best)
			used[best] = true
			continue
		}
		// no appendable stop; try inserting any remaining stop anywhere
		inserted := false
		for i := 0; i < n && !inserted; i++ {
			if used[i] {
				continue
			}
			for pos := 0; pos <= len(order); pos++ {
				cand := make([]int, 0, len(order)+1)
				cand = append(cand, order[:pos]...)
				cand = append(cand, i)
				cand = append(cand, order[pos:]...)
				if st.schedule(cand) {
					order = cand
					used[i] = true
					inserted = true
					break
				}
			}
		}
		if !inserted {
			return nil, false
		}
	}
	return order, true
}

// improve runs 2-opt segment reversals and single-stop relocations until
// the deadline, keeping only feasible improvements.
func (st *solverState) improve(order []int, deadline time.Time) []int {
	n := len(order)
	if n < 2 {
		return order
	}
	improved := true
	for improved && time.Now().Before(deadline) {
		improved = false
		// 2-opt
		for i := 0; i < n-1 && time.Now().Before(deadline); i++ {
			for k := i + 1; k < n; k++ {
				cand := append([]int(nil), order...)
				for a, b := i, k; a < b; a, b = a+1, b-1 {
					cand[a], cand[b] = cand[b], cand[a]
				}
				if !st.schedule(cand) {
					continue
				}
				if st.distance(cand)+1e-9 < st.distance(order) {
					order = cand
					improved = true
				}
			}
		}
		// or-opt: relocate single stops
		for i := 0; i < n && time.Now().Before(deadline); i++ {
			for j := 0; j <= n; j++ {
				if j == i || j == i+1 {
					continue
				}
				cand := make([]int, 0, n)
				cand = append(cand, order[:i]...)
				cand = append(cand, order[i+1:]...)
				pos := j
				if pos > i {
					pos--
				}
				cand = append(cand[:pos], append([]int{order[i]}, cand[pos:]...)...)
				if !st.schedule(cand) {
					continue
				}
				if st.distance(cand)+1e-9 < st.distance(order) {
					order = cand
					improved = true
				}
			}
		}
	}
	return order
}

// SolvedRoute pairs the visiting order with ETAs and total distance.
type SolvedRoute struct {
	Order      []int
	ArrivalMin []int
	TotalKm    float64
}

// SolveRouteDetailed is SolveRoute plus the schedule of the final order.
func SolveRouteDetailed(p RouteProblem) (SolvedRoute, error) {
	order, err := SolveRoute(p)
	if err != nil {
		return SolvedRoute{}, err
	}
	if len(order) == 0 {
		return SolvedRoute{Order: []int{}, ArrivalMin: []int{}}, nil
	}
	st, err := newState(p)
	if err != nil {
		return SolvedRoute{}, err
	}
	return SolvedRoute{
		Order:      order,
		ArrivalMin: st.arrivalTimes(order),
		TotalKm:    st.distance(order),
	}, nil
}
