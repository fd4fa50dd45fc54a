package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Conviction Engine Configuration

[engine]
# Weight profile: "general" (unweighted) or "crisis" (fixed weights below)
profile = "general"
# Scheduled aggregation interval for "serve"
interval = "1h"
# Whole-cycle time budget; on overrun the previous snapshot stays published
cycle_timeout = "2m"
# Per-source normalizer time budget
source_timeout = "30s"
# Workers used to shard tickers during aggregation
workers = 4
# Failed or timed-out source: "drop" (zero events) or "last_good" (reuse last good events)
stale_source_policy = "drop"
neutral_dampening = 0.5
direction_epsilon = 0.05
conflict_min_weight = 10.0
conflict_penalty_factor = 0.25
bonus_per_source = 20.0
bonus_cap = 40.0
# Consecutive source failures before its collector is skipped for breaker_cooldown
breaker_failures = 3
breaker_cooldown = "15m"
# Attempts per source per cycle; a missing input file is never retried
retry_attempts = 2
retry_delay = "500ms"

[windows]
# Lookback in days per source
congress = 90
ark = 30
dark_pool = 30
institutional = 180
insider = 90
short_interest = 60
superinvestor = 180

[decay]
# "exponential" or "linear"
mode = "exponential"
half_life_days = 30.0

[dark_pool]
z_threshold = 2.5
baseline_days = 20
min_baseline = 5
bullish_dpi = 0.5
bearish_dpi = 0.3

[short_interest]
# Direction assigned to high short interest + high days-to-cover: neutral, bullish, bearish
squeeze_direction = "neutral"
squeeze_min_pct_float = 20.0
squeeze_min_days_to_cover = 5.0
flat_change_pct = 5.0

[profiles.crisis]
# Must list every weighted source and sum to 100
congress = 25
insider = 25
institutional = 20
ark = 15
dark_pool = 15

[input]
# Directory holding <source>.json collector output
# dir = "/var/lib/conviction/input"
# tables_path = "/etc/conviction/tables.yaml"

[store]
# path = "/var/lib/conviction/conviction.db"

[server]
addr = ":8080"

[logging]
level = "info"
console = true
file = false
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
