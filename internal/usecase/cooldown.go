package usecase

import (
	"strconv"
	"sync"
	"time"
)

// CooldownPolicy is the minimum spacing between two alerts with the same key.
type CooldownPolicy struct {
	Window time.Duration
}

var (
	// RuleCooldown spaces rule alerts per (rule, target).
	RuleCooldown = CooldownPolicy{Window: 60 * time.Second}
	// WeatherCooldown spaces automatic weather warnings per city.
	WeatherCooldown = CooldownPolicy{Window: 10 * time.Minute}
)

// Cooldown remembers when each key last fired. Suppressed attempts do not
// extend the window.
type Cooldown struct {
	policy CooldownPolicy

	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown(p CooldownPolicy) *Cooldown {
	return &Cooldown{policy: p, last: make(map[string]time.Time)}
}

// TryFire records a firing for key at now and reports true, unless key fired
// less than one window ago.
func (c *Cooldown) TryFire(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[key]; ok && now.Sub(last) < c.policy.Window {
		return false
	}
	c.last[key] = now
	return true
}

// Prune forgets keys whose window has passed and returns how many it dropped.
func (c *Cooldown) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, t := range c.last {
		if now.Sub(t) >= c.policy.Window {
			delete(c.last, k)
			n++
		}
	}
	return n
}

func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}

// RuleKey is the cooldown key of a rule firing for target.
func RuleKey(ruleID int64, target string) string {
	return strconv.FormatInt(ruleID, 10) + "_" + target
}

// WeatherKey is the cooldown key of an automatic warning for city.
func WeatherKey(city string) string {
	return "weather_warning:" + city
}
