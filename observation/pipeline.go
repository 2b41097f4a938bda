package observation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/config"
	"github.com/milosgajdos/go-slam/expectation"
	"github.com/milosgajdos/go-slam/gaussian"
	"github.com/milosgajdos/go-slam/kalman"
	"github.com/milosgajdos/go-slam/landmark"
	"github.com/milosgajdos/go-slam/logger"
	"github.com/milosgajdos/go-slam/robot"
	"github.com/milosgajdos/go-slam/store"
	"golang.org/x/sync/errgroup"
)

// Pipeline runs the per frame observation pipeline of a robot and its sensors
type Pipeline struct {
	// m is the shared state
	m *store.Map
	// r is the robot
	r *robot.Robot
	// sensors are the robot sensors
	sensors []slam.Sensor
	// matcher is the front end
	matcher slam.Matcher
	// k corrects the state
	k kalman.Corrector
	// c is pipeline configuration
	c *config.Config
	// opts are expectation options
	opts expectation.Options
	// landmarks are active landmarks
	landmarks []*landmark.Landmark
	// now returns current time
	now func() time.Time
}

// New creates new Pipeline and returns it.
// It returns error if either of the collaborators is nil or the configuration is invalid.
func New(m *store.Map, r *robot.Robot, sensors []slam.Sensor, matcher slam.Matcher, k kalman.Corrector, c *config.Config) (*Pipeline, error) {
	if m == nil || r == nil || matcher == nil || k == nil {
		return nil, fmt.Errorf("invalid pipeline collaborators")
	}

	if len(sensors) == 0 {
		return nil, fmt.Errorf("no sensors")
	}

	if c == nil {
		c = config.Default()
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Pipeline{
		m:       m,
		r:       r,
		sensors: append([]slam.Sensor(nil), sensors...),
		matcher: matcher,
		k:       k,
		c:       c,
		opts: expectation.Options{
			Margin:      c.ImageMargin,
			MinJacRatio: c.MinJacRatio,
		},
		now: time.Now,
	}, nil
}

// SetClock sets the clock measuring the frame budget
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Add adds landmark l to the pipeline
func (p *Pipeline) Add(l *landmark.Landmark) {
	p.landmarks = append(p.landmarks, l)
}

// Landmarks returns active landmarks
func (p *Pipeline) Landmarks() []*landmark.Landmark {
	return append([]*landmark.Landmark(nil), p.landmarks...)
}

// Frame runs one frame of the pipeline and returns its observations and statistics:
//  1. computes expectations of all active landmarks by all sensors in parallel
//  2. filters visible expectations
//  3. ranks them by information gain
//  4. matches them in rank order until the update count or the time budget is exhausted,
//     skipping those which earlier updates of the frame moved out of view
//  5. updates the state with every match, one at a time
//  6. records a miss of every landmark missed by some sensor and updated by none
//  7. converts converged inverse depth landmarks and prunes repeatedly missed ones
//
// The time budget is measured from the start of ranking.
// Failures of individual observations are recorded in them and do not stop the frame.
// It returns error if the state becomes corrupted, the context is cancelled
// or the expectations can not be computed.
func (p *Pipeline) Frame(ctx context.Context) ([]*Observation, FrameStats, error) {
	start := p.now()
	stats := FrameStats{}

	obs, err := p.expect(ctx)
	if err != nil {
		return nil, stats, err
	}
	stats.Expected = len(obs)

	visible := make([]*Observation, 0, len(obs))
	for _, o := range obs {
		o.Expectation.ComputeVisibility()
		o.Expectation.EstimateInfoGain()
		o.Status = NotVisible
		if o.Expectation.IsVisible() {
			o.Status = Visible
			visible = append(visible, o)
		}
	}
	stats.Visible = len(visible)

	budget := p.now()
	rank(visible)

	for i, o := range visible {
		if err := ctx.Err(); err != nil {
			return obs, stats, err
		}

		if stats.Updated >= p.c.MaxUpdates || p.exhausted(budget) {
			stats.Dropped = len(visible) - i
			break
		}

		if err := p.observe(ctx, o, &stats); err != nil {
			logger.Log.Errorw("state update failed", "landmark", o.Landmark.ID, "error", err)
			return obs, stats, err
		}
	}

	misses(obs)

	if err := p.lifecycle(&stats); err != nil {
		return obs, stats, err
	}

	stats.Duration = p.now().Sub(start)
	logger.Log.Debugw("frame done",
		"expected", stats.Expected,
		"visible", stats.Visible,
		"dropped", stats.Dropped,
		"lost", stats.Lost,
		"updated", stats.Updated,
		"rejected", stats.Rejected,
		"unmatched", stats.Unmatched,
		"converged", stats.Converged,
		"pruned", stats.Pruned,
		"duration", stats.Duration,
	)

	return obs, stats, nil
}

// expect computes expectations of all active landmarks by all sensors
func (p *Pipeline) expect(ctx context.Context) ([]*Observation, error) {
	obs := make([]*Observation, 0, len(p.sensors)*len(p.landmarks))
	for i, s := range p.sensors {
		for _, l := range p.landmarks {
			obs = append(obs, &Observation{
				Sensor:   s,
				Landmark: l,
				Status:   Predicted,
				sensor:   i,
			})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.c.Workers)

	for _, o := range obs {
		o := o
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			e, err := expectation.Compute(p.m, p.r, o.Sensor, o.Landmark, p.opts)
			if err != nil {
				return fmt.Errorf("landmark %s: %w", o.Landmark.ID, err)
			}
			o.Expectation = e

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return obs, nil
}

// rank orders observations by information gain, landmark state offset and sensor
func rank(obs []*Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		gi, gj := obs[i].Expectation.InfoGain(), obs[j].Expectation.InfoGain()
		if gi != gj {
			return gi > gj
		}

		si, sj := obs[i].Landmark.Range().Start, obs[j].Landmark.Range().Start
		if si != sj {
			return si < sj
		}

		return obs[i].sensor < obs[j].sensor
	})
}

func (p *Pipeline) exhausted(start time.Time) bool {
	return p.c.FrameBudget > 0 && p.now().Sub(start) >= p.c.FrameBudget
}

// observe matches o and updates the state with the match.
// It returns error only if the state got corrupted.
func (p *Pipeline) observe(ctx context.Context, o *Observation, stats *FrameStats) error {
	l := o.Landmark

	// earlier updates of the frame moved the state
	e, err := expectation.Compute(p.m, p.r, o.Sensor, l, p.opts)
	if err != nil {
		return err
	}
	e.ComputeVisibility()
	e.EstimateInfoGain()
	o.Expectation = e

	if !e.IsVisible() {
		o.Status, o.Err = NotVisible, e.Err()
		stats.Lost++
		logger.Log.Debugw("landmark left the field of view", "landmark", l.ID)
		return nil
	}

	z, ok, err := p.matcher.Match(ctx, slam.MatchRequest{
		Sensor:     o.Sensor,
		Landmark:   l.ID,
		Descriptor: l.Descriptor,
		Mean:       e.Val(),
		Cov:        e.Cov(),
	})
	if err != nil {
		logger.Log.Warnw("matching failed", "landmark", l.ID, "error", err)
		ok = false
	}

	if !ok {
		o.Status = Unmatched
		stats.Unmatched++
		return nil
	}

	o.Status, o.Measurement = Matched, z
	stats.Matched++

	err = p.k.Update(p.m, z, Observer(p.r, o.Sensor, l, p.opts))
	switch {
	case err == nil:
		o.Status = Updated
		o.Innovation = p.k.Innovation()
		o.NIS = p.k.NIS()
		stats.Updated++
		l.Updated()
	case errors.Is(err, slam.ErrStateCorruption):
		o.Status, o.Err = Rejected, err
		stats.Rejected++
		return err
	default:
		o.Status, o.Err = Rejected, err
		stats.Rejected++
		logger.Log.Debugw("observation rejected", "landmark", l.ID, "error", err)
	}

	return nil
}

// misses records a miss of every landmark which some sensor failed to match or
// gated out as an outlier and no sensor updated
func misses(obs []*Observation) {
	missed := make(map[*landmark.Landmark]bool)
	for _, o := range obs {
		switch {
		case o.Status == Updated:
			missed[o.Landmark] = false
		case o.Status == Unmatched, o.Status == Rejected && errors.Is(o.Err, slam.ErrOutlier):
			if _, ok := missed[o.Landmark]; !ok {
				missed[o.Landmark] = true
			}
		}
	}

	for l, miss := range missed {
		if miss {
			l.Missed()
		}
	}
}

// lifecycle converts converged inverse depth landmarks and prunes repeatedly missed landmarks
func (p *Pipeline) lifecycle(stats *FrameStats) error {
	active := p.landmarks[:0]
	for _, l := range p.landmarks {
		if l.Misses >= p.c.MaxMisses {
			if err := l.Prune(p.m); err != nil {
				return fmt.Errorf("failed to prune landmark %s: %w", l.ID, err)
			}
			stats.Pruned++
			continue
		}

		if _, ok := l.Param().(landmark.InverseDepth); ok && l.Status == landmark.Converging && l.Converged(p.c.ConvergeRatio) {
			if err := l.ToEuclidean(p.m); err != nil {
				if errors.Is(err, slam.ErrStateCorruption) {
					return err
				}
				logger.Log.Warnw("landmark conversion failed", "landmark", l.ID, "error", err)
			} else {
				stats.Converged++
			}
		}

		active = append(active, l)
	}

	for i := len(active); i < len(p.landmarks); i++ {
		p.landmarks[i] = nil
	}
	p.landmarks = active

	return nil
}

// Observer returns observer of landmark l by sensor s mounted on robot r
func Observer(r *robot.Robot, s slam.Sensor, l *landmark.Landmark, o expectation.Options) kalman.Observer {
	return func(a gaussian.Arena) (kalman.Linearization, error) {
		e, err := expectation.Compute(a, r, s, l, o)
		if err != nil {
			return kalman.Linearization{}, err
		}

		if err := e.Err(); err != nil {
			return kalman.Linearization{}, err
		}

		return kalman.Linearization{
			Y:   e.Val(),
			H:   e.Jacobian(),
			Idx: e.Indices(),
		}, nil
	}
}
