// Copyright 2025 Certen Protocol
//
// Package bandit implements Thompson sampling over (temperature,
// candidate_count) arms, used to pick generation parameters that trade off
// diversity against cost as the system learns which settings tend to
// produce verified candidates.
package bandit

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"
)

// Arm is one (temperature, candidate_count) configuration with a Beta(α, β)
// posterior over "did this arm's candidate end up verified".
type Arm struct {
	Temperature    float64 `json:"temperature"`
	CandidateCount int     `json:"candidate_count"`
	Alpha          float64 `json:"alpha"`
	Beta           float64 `json:"beta"`
	Pulls          int     `json:"pulls"`
}

// Mean is the posterior mean reward, α/(α+β).
func (a Arm) Mean() float64 {
	return a.Alpha / (a.Alpha + a.Beta)
}

// UCB is an optimistic upper confidence bound alternative to sampling,
// used by SelectArmUCB instead of a random draw.
func (a Arm) UCB(totalPulls int) float64 {
	if a.Pulls == 0 {
		return math.Inf(1)
	}
	return a.Mean() + math.Sqrt(2*math.Log(float64(totalPulls))/float64(a.Pulls))
}

func (a Arm) sample(src distuv.Beta) float64 {
	src.Alpha = a.Alpha
	src.Beta = a.Beta
	return src.Rand()
}

func (a *Arm) update(reward float64) {
	a.Pulls++
	// reward is a continuous confidence in [0, 1]; treat it as a fractional
	// Bernoulli outcome rather than rounding, so partial-credit verification
	// scores still move the posterior smoothly.
	a.Alpha += reward
	a.Beta += 1 - reward
}

// DefaultArms mirrors the configuration sweep that's been tuned against
// historical generation outcomes: lower temperatures paired with fewer
// candidates for cheap, conservative generation; higher temperature and
// wider candidate fan-out for exploration.
func DefaultArms() []Arm {
	settings := [][2]float64{
		{0.1, 2},
		{0.2, 3},
		{0.4, 3},
		{0.5, 4},
		{0.7, 4},
		{0.8, 5},
	}
	arms := make([]Arm, len(settings))
	for i, s := range settings {
		arms[i] = Arm{Temperature: s[0], CandidateCount: int(s[1]), Alpha: 1, Beta: 1}
	}
	return arms
}

// Bandit is a Thompson-sampling selector over a fixed arm set, safe for
// concurrent use. State is periodically snapshotted to disk so restarts
// don't forget what's been learned.
type Bandit struct {
	mu   sync.Mutex
	arms []Arm
	rng  distuv.Beta
}

// New returns a Bandit seeded with arms. Pass DefaultArms() for the
// standard sweep.
func New(arms []Arm) *Bandit {
	return &Bandit{arms: arms}
}

// SelectArm draws a sample from each arm's Beta posterior and returns the
// arm with the highest draw, plus its index for Update.
func (b *Bandit) SelectArm() (Arm, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bestIdx := 0
	bestSample := b.arms[0].sample(b.rng)
	for i := 1; i < len(b.arms); i++ {
		if s := b.arms[i].sample(b.rng); s > bestSample {
			bestSample, bestIdx = s, i
		}
	}
	return b.arms[bestIdx], bestIdx
}

// SelectArmUCB is the deterministic alternative to SelectArm, useful when
// reproducibility matters more than exploration variance (e.g. tests).
func (b *Bandit) SelectArmUCB() (Arm, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, a := range b.arms {
		total += a.Pulls
	}
	if total == 0 {
		total = 1
	}

	bestIdx := 0
	bestUCB := b.arms[0].UCB(total)
	for i := 1; i < len(b.arms); i++ {
		if u := b.arms[i].UCB(total); u > bestUCB {
			bestUCB, bestIdx = u, i
		}
	}
	return b.arms[bestIdx], bestIdx
}

// Update records the outcome of pulling arm idx. reward must be in [0, 1].
func (b *Bandit) Update(idx int, reward float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 || idx >= len(b.arms) {
		return fmt.Errorf("bandit: arm index %d out of range [0,%d)", idx, len(b.arms))
	}
	if reward < 0 || reward > 1 {
		return fmt.Errorf("bandit: reward %.4f out of range [0,1]", reward)
	}
	b.arms[idx].update(reward)
	return nil
}

// Snapshot returns a copy of the current arm set, for persistence or
// inspection.
func (b *Bandit) Snapshot() []Arm {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Arm, len(b.arms))
	copy(out, b.arms)
	return out
}

// SaveJSON persists the bandit's current arm state to path.
func (b *Bandit) SaveJSON(path string) error {
	raw, err := json.MarshalIndent(b.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("bandit: marshaling state: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("bandit: writing state to %s: %w", path, err)
	}
	return nil
}

// LoadJSON restores a Bandit from a file written by SaveJSON. If path does
// not exist, a fresh Bandit seeded with DefaultArms is returned instead.
func LoadJSON(path string) (*Bandit, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(DefaultArms()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("bandit: reading state from %s: %w", path, err)
	}
	var arms []Arm
	if err := json.Unmarshal(raw, &arms); err != nil {
		return nil, fmt.Errorf("bandit: decoding state from %s: %w", path, err)
	}
	return New(arms), nil
}
