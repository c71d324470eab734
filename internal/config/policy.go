package config

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	CombineBest = "best"
	CombineEMA  = "ema"
)

// Policy groups every tunable of grading, knowledge and unlocking.
type Policy struct {
	Scoring        ScoringPolicy        `mapstructure:"scoring" yaml:"scoring"`
	Knowledge      KnowledgePolicy      `mapstructure:"knowledge" yaml:"knowledge"`
	Aggregation    AggregationPolicy    `mapstructure:"aggregation" yaml:"aggregation"`
	Unlock         UnlockPolicy         `mapstructure:"unlock" yaml:"unlock"`
	Recommendation RecommendationPolicy `mapstructure:"recommendation" yaml:"recommendation"`
}

type ScoringPolicy struct {
	PassPercent       int           `mapstructure:"pass_percent" yaml:"pass_percent"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"` // 0 = unlimited
	BlockAfterPerfect bool          `mapstructure:"block_after_perfect" yaml:"block_after_perfect"`
	LockWait          time.Duration `mapstructure:"lock_wait" yaml:"lock_wait"`
	LockTTL           time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
}

type KnowledgePolicy struct {
	Combine  string  `mapstructure:"combine" yaml:"combine"`
	EMAAlpha float64 `mapstructure:"ema_alpha" yaml:"ema_alpha"`
}

type AggregationPolicy struct {
	ModuleTestShare float64       `mapstructure:"module_test_share" yaml:"module_test_share"`
	CourseTestShare float64       `mapstructure:"course_test_share" yaml:"course_test_share"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type UnlockPolicy struct {
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
}

type RecommendationPolicy struct {
	WeakThreshold float64 `mapstructure:"weak_threshold" yaml:"weak_threshold"`
}

func DefaultPolicy() Policy {
	return Policy{
		Scoring: ScoringPolicy{
			PassPercent:       60,
			MaxAttempts:       3,
			BlockAfterPerfect: true,
			LockWait:          3 * time.Second,
			LockTTL:           15 * time.Second,
			MaxRetries:        3,
		},
		Knowledge: KnowledgePolicy{
			Combine:  CombineBest,
			EMAAlpha: 0.5,
		},
		Aggregation: AggregationPolicy{
			ModuleTestShare: 0.5,
			CourseTestShare: 0.5,
			CacheTTL:        10 * time.Minute,
		},
		Unlock: UnlockPolicy{
			Threshold: 80,
		},
		Recommendation: RecommendationPolicy{
			WeakThreshold: 70,
		},
	}
}

func (p Policy) Validate() error {
	if p.Scoring.PassPercent < 0 || p.Scoring.PassPercent > 100 {
		return fmt.Errorf("scoring.pass_percent must be within [0,100], got %d", p.Scoring.PassPercent)
	}
	if p.Scoring.MaxAttempts < 0 {
		return errors.New("scoring.max_attempts must not be negative")
	}
	if p.Scoring.MaxRetries < 0 {
		return errors.New("scoring.max_retries must not be negative")
	}
	// lock_ttl 为 0 时 Redis 锁永不过期
	if p.Scoring.LockTTL <= 0 {
		return fmt.Errorf("scoring.lock_ttl must be positive, got %s", p.Scoring.LockTTL)
	}
	if p.Scoring.LockWait <= 0 {
		return fmt.Errorf("scoring.lock_wait must be positive, got %s", p.Scoring.LockWait)
	}
	switch p.Knowledge.Combine {
	case CombineBest:
	case CombineEMA:
		if p.Knowledge.EMAAlpha <= 0 || p.Knowledge.EMAAlpha > 1 {
			return fmt.Errorf("knowledge.ema_alpha must be within (0,1], got %v", p.Knowledge.EMAAlpha)
		}
	default:
		return fmt.Errorf("knowledge.combine must be %q or %q, got %q", CombineBest, CombineEMA, p.Knowledge.Combine)
	}
	if p.Aggregation.ModuleTestShare < 0 || p.Aggregation.ModuleTestShare > 1 {
		return errors.New("aggregation.module_test_share must be within [0,1]")
	}
	if p.Aggregation.CourseTestShare < 0 || p.Aggregation.CourseTestShare > 1 {
		return errors.New("aggregation.course_test_share must be within [0,1]")
	}
	if p.Aggregation.CacheTTL < 0 {
		return errors.New("aggregation.cache_ttl must not be negative")
	}
	if p.Unlock.Threshold < 0 || p.Unlock.Threshold > 100 {
		return errors.New("unlock.threshold must be within [0,100]")
	}
	if p.Recommendation.WeakThreshold < 0 || p.Recommendation.WeakThreshold > 100 {
		return errors.New("recommendation.weak_threshold must be within [0,100]")
	}
	return nil
}

// PolicyStore hands out the current policy; configwatcher swaps it on reload.
type PolicyStore struct {
	p atomic.Pointer[Policy]
}

func NewPolicyStore(p Policy) *PolicyStore {
	s := &PolicyStore{}
	s.p.Store(&p)
	return s
}

func (s *PolicyStore) Get() Policy {
	return *s.p.Load()
}

// Replace swaps in p if it validates.
func (s *PolicyStore) Replace(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.p.Store(&p)
	return nil
}
