package domain

// Tier represents the severity of a cannibalization alert
type Tier string

const (
	TierNone     Tier = "none"
	TierInfo     Tier = "info"
	TierWarning  Tier = "warning"
	TierCritical Tier = "critical"
)

// Severity orders tiers so that critical sorts first.
func (t Tier) Severity() int {
	switch t {
	case TierCritical:
		return 0
	case TierWarning:
		return 1
	case TierInfo:
		return 2
	default:
		return 3
	}
}

// Thresholds are the caller-supplied classification knobs
type Thresholds struct {
	Position    float64 `json:"position_threshold"`
	Impressions float64 `json:"impressions_threshold"`
}

// DefaultThresholds returns position 30 and impressions 50.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Position:    30,
		Impressions: 50,
	}
}

// Alert is the classification of one AggregatedURL
type Alert struct {
	URL            string                `json:"url"`
	Tier           Tier                  `json:"tier"`
	WindowDays     int                   `json:"window_days"`
	Metrics        WindowMetrics         `json:"metrics"`
	ShorterWindows map[int]WindowMetrics `json:"shorter_windows,omitempty"`
	Variations     []string              `json:"variations"`
	Recommendation string                `json:"recommendation"`
}
