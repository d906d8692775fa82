package router

import (
	"strconv"
	"sync"
	"time"

	"github.com/axiom-labs/ivcud/pkg/catalog"
	"github.com/axiom-labs/ivcud/pkg/errtype"
)

// tokensPerChar is the same prompt-length-to-token heuristic llm.Provider
// mocks use; real providers report actual usage after the call, this is
// only for pre-flight estimates.
const tokensPerChar = 0.25

// outputTokensByComplexity gives a rough expected completion size before a
// model has actually run, bucketed by how long the rendered prompt is.
var outputTokensByComplexity = []struct {
	maxPromptChars int
	outputTokens   int
}{
	{maxPromptChars: 200, outputTokens: 150},
	{maxPromptChars: 800, outputTokens: 400},
	{maxPromptChars: 3000, outputTokens: 900},
	{maxPromptChars: 1 << 30, outputTokens: 1800},
}

// Estimate is a pre-flight cost projection for one candidate model.
type Estimate struct {
	ModelID          string
	BaseCostUSD      float64
	EffectiveCostUSD float64
	PromptTokens     int
	OutputTokens     int
}

// UsageRecord is one completed, billed generation call, kept in the
// oracle's in-memory history for the daily budget tracker. The event
// store's CostLedger does not read it; it sums COST_INCURRED events.
type UsageRecord struct {
	ModelID    string
	AmountUSD  float64
	Operation  string
	RecordedAt time.Time
}

// Oracle estimates and tracks generation spend against a daily budget that
// resets at UTC midnight.
type Oracle struct {
	mu          sync.Mutex
	dailyBudget float64
	spentToday  float64
	dayStart    time.Time
	history     []UsageRecord
	now         func() time.Time
}

// NewOracle returns an Oracle with the given daily USD budget. A zero
// budget means unlimited.
func NewOracle(dailyBudgetUSD float64) *Oracle {
	return &Oracle{
		dailyBudget: dailyBudgetUSD,
		now:         time.Now,
	}
}

// EstimateCost projects the cost of running spec against a prompt of
// promptChars characters.
func (o *Oracle) EstimateCost(spec catalog.Spec, promptChars int) Estimate {
	promptTokens := int(float64(promptChars) * tokensPerChar)
	outputTokens := outputTokensFor(promptChars)

	base := float64(promptTokens)/1000*spec.CostPer1kInput + float64(outputTokens)/1000*spec.CostPer1kOutput
	return Estimate{
		ModelID:          spec.ModelID,
		BaseCostUSD:      base,
		EffectiveCostUSD: base * spec.EffectiveCostMultiplier(),
		PromptTokens:     promptTokens,
		OutputTokens:     outputTokens,
	}
}

func outputTokensFor(promptChars int) int {
	for _, bucket := range outputTokensByComplexity {
		if promptChars <= bucket.maxPromptChars {
			return bucket.outputTokens
		}
	}
	return outputTokensByComplexity[len(outputTokensByComplexity)-1].outputTokens
}

// Alternatives returns every cataloged model for task, with cost estimates,
// ordered cheapest-effective-cost first.
func (o *Oracle) Alternatives(task catalog.TaskType, promptChars int) []Estimate {
	specs := catalog.ForTask(task)
	estimates := make([]Estimate, 0, len(specs))
	for _, s := range specs {
		estimates = append(estimates, o.EstimateCost(s, promptChars))
	}
	for i := 1; i < len(estimates); i++ {
		for j := i; j > 0 && estimates[j].EffectiveCostUSD < estimates[j-1].EffectiveCostUSD; j-- {
			estimates[j], estimates[j-1] = estimates[j-1], estimates[j]
		}
	}
	return estimates
}

// RecommendModel scores each candidate for task as
// humaneval_score - effective_cost*10 and returns the highest scorer,
// favoring quality but penalizing expensive retries.
func (o *Oracle) RecommendModel(task catalog.TaskType, promptChars int) (catalog.Spec, error) {
	specs := catalog.ForTask(task)
	if len(specs) == 0 {
		return catalog.Spec{}, &errtype.ValidationError{Field: "task", Reason: "no model supports this task type"}
	}

	best := specs[0]
	bestScore := o.score(best, promptChars)
	for _, s := range specs[1:] {
		if sc := o.score(s, promptChars); sc > bestScore {
			best, bestScore = s, sc
		}
	}
	return best, nil
}

func (o *Oracle) score(spec catalog.Spec, promptChars int) float64 {
	est := o.EstimateCost(spec, promptChars)
	return spec.HumanEvalScore - est.EffectiveCostUSD*10
}

// CheckBudget returns errtype.BudgetExceeded if estimate would push today's
// spend past the daily budget. A zero daily budget disables the check.
func (o *Oracle) CheckBudget(estimateUSD float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.maybeResetDaily()

	if o.dailyBudget <= 0 {
		return nil
	}
	if o.spentToday+estimateUSD > o.dailyBudget {
		return &errtype.BudgetExceeded{Limit: o.dailyBudget, Estimate: o.spentToday + estimateUSD}
	}
	return nil
}

// RecordUsage books amountUSD against today's spend and appends to history.
func (o *Oracle) RecordUsage(record UsageRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.maybeResetDaily()
	o.spentToday += record.AmountUSD
	o.history = append(o.history, record)
}

// SpentToday returns the running total spent since the last UTC-midnight
// reset.
func (o *Oracle) SpentToday() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.maybeResetDaily()
	return o.spentToday
}

func (o *Oracle) maybeResetDaily() {
	now := o.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if o.dayStart.Before(today) {
		o.dayStart = today
		o.spentToday = 0
	}
}

// FormatAmount renders a USD amount as the fixed-point decimal string used
// on the wire for COST_INCURRED payloads (spec §6).
func FormatAmount(amountUSD float64) string {
	return strconv.FormatFloat(amountUSD, 'f', 6, 64)
}
