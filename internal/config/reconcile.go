package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MatchWeights are the per-factor scores of the transfer auto-match engine.
// The defaults are a calibration, not a contract; operators may re-weight
// them per deployment.
type MatchWeights struct {
	ReferenceNumber int `mapstructure:"referenceNumber"`
	ExactAmount     int `mapstructure:"exactAmount"`
	SenderEmail     int `mapstructure:"senderEmail"`
	SenderName      int `mapstructure:"senderName"`
}

// ApprovalLevel is one required step of an approval chain.
type ApprovalLevel struct {
	Role           string        `mapstructure:"role"`
	Timeout        time.Duration `mapstructure:"timeout"`
	EscalationRole string        `mapstructure:"escalationRole"`
}

// ApprovalThreshold maps an amount range to its approval requirements.
// MaxAmount nil means unbounded.
type ApprovalThreshold struct {
	MinAmount   int64           `mapstructure:"minAmount"`
	MaxAmount   *int64          `mapstructure:"maxAmount"`
	AutoApprove bool            `mapstructure:"autoApprove"`
	Levels      []ApprovalLevel `mapstructure:"levels"`
}

// ReconcileConfig drives the auto-match engine and the approval workflow.
type ReconcileConfig struct {
	Weights                MatchWeights        `mapstructure:"weights"`
	AutoApplyScore         int                 `mapstructure:"autoApplyScore"`
	AmbiguityMargin        int                 `mapstructure:"ambiguityMargin"`
	HighValueThreshold     int64               `mapstructure:"highValueThreshold"`
	DuplicateWindowMinutes int                 `mapstructure:"duplicateWindowMinutes"`
	ApprovalThresholds     []ApprovalThreshold `mapstructure:"approvalThresholds"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Weights: MatchWeights{
			ReferenceNumber: 60,
			ExactAmount:     25,
			SenderEmail:     20,
			SenderName:      15,
		},
		AutoApplyScore:         90,
		AmbiguityMargin:        15,
		HighValueThreshold:     1_000_000,
		DuplicateWindowMinutes: 60 * 24,
		ApprovalThresholds: []ApprovalThreshold{
			{MinAmount: 0, MaxAmount: int64Ptr(100_000), AutoApprove: true},
			{MinAmount: 100_000, MaxAmount: int64Ptr(1_000_000), Levels: []ApprovalLevel{
				{Role: "MANAGER", Timeout: 48 * time.Hour, EscalationRole: "ADMIN"},
			}},
			{MinAmount: 1_000_000, MaxAmount: nil, Levels: []ApprovalLevel{
				{Role: "MANAGER", Timeout: 24 * time.Hour, EscalationRole: "ADMIN"},
				{Role: "ADMIN", Timeout: 24 * time.Hour, EscalationRole: "EXECUTIVE"},
			}},
		},
	}
}

func int64Ptr(v int64) *int64 { return &v }

// ReconcileConfigHolder serves the current reconciliation config and hot
// reloads it when the backing file changes.
type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

func NewReconcileConfigHolder(log *zap.Logger) (*ReconcileConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.reconcile")

	v := viper.New()

	v.SetConfigName("reconcile")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/finvo/config") // Volume-mounted config
	v.AddConfigPath("/etc/finvo")            // System config
	v.AddConfigPath(".")                     // Current directory (dev mode)

	v.SetEnvPrefix("FINVO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultReconcileConfig()
	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}
	if fileFound {
		if err := v.UnmarshalKey("reconcile", &cfg); err != nil {
			return nil, err
		}
	}
	if err := validateReconcileConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated := DefaultReconcileConfig()
			if err := v.UnmarshalKey("reconcile", &updated); err != nil {
				log.Warn("reload failed", zap.Error(err))
				return
			}
			if err := validateReconcileConfig(updated); err != nil {
				log.Warn("invalid config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// NewStaticReconcileConfigHolder wraps a fixed config, for tests.
func NewStaticReconcileConfigHolder(cfg ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	return h.current.Load().(ReconcileConfig)
}

func validateReconcileConfig(cfg ReconcileConfig) error {
	if cfg.AutoApplyScore <= 0 || cfg.AutoApplyScore > 100 {
		return errors.New("reconcile.autoApplyScore must be within (0, 100]")
	}
	if cfg.AmbiguityMargin < 0 {
		return errors.New("reconcile.ambiguityMargin cannot be negative")
	}
	if cfg.HighValueThreshold <= 0 {
		return errors.New("reconcile.highValueThreshold must be positive")
	}
	if len(cfg.ApprovalThresholds) == 0 {
		return errors.New("reconcile.approvalThresholds cannot be empty")
	}
	for _, threshold := range cfg.ApprovalThresholds {
		if threshold.AutoApprove {
			continue
		}
		if len(threshold.Levels) == 0 {
			return errors.New("reconcile.approvalThresholds levels cannot be empty for non auto-approve ranges")
		}
		for _, level := range threshold.Levels {
			if strings.TrimSpace(level.Role) == "" {
				return errors.New("reconcile.approvalThresholds level role cannot be empty")
			}
		}
	}
	return nil
}
