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

// Tuning holds operational knobs that can change without a restart.
type Tuning struct {
	Sweeper  SweeperTuning  `mapstructure:"sweeper"`
	Checkout CheckoutTuning `mapstructure:"checkout"`
	Webhook  WebhookTuning  `mapstructure:"webhook"`
}

type SweeperTuning struct {
	RunInterval     time.Duration `mapstructure:"runInterval"`
	BatchSize       int           `mapstructure:"batchSize"`
	PendingDeadline time.Duration `mapstructure:"pendingDeadline"`
	HardDeadline    time.Duration `mapstructure:"hardDeadline"`
	LockTTL         time.Duration `mapstructure:"lockTTL"`
}

type CheckoutTuning struct {
	SessionTTL time.Duration `mapstructure:"sessionTTL"`
	RateLimit  float64       `mapstructure:"rateLimit"`
	RateBurst  int           `mapstructure:"rateBurst"`
}

type WebhookTuning struct {
	Tolerance time.Duration `mapstructure:"tolerance"`
	DedupTTL  time.Duration `mapstructure:"dedupTTL"`
	// ProcessingLease bounds how long an unfinished delivery blocks redeliveries.
	ProcessingLease time.Duration `mapstructure:"processingLease"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Sweeper: SweeperTuning{
			RunInterval:     time.Minute,
			BatchSize:       50,
			PendingDeadline: 70 * time.Minute,
			HardDeadline:    48 * time.Hour,
			LockTTL:         2 * time.Minute,
		},
		Checkout: CheckoutTuning{
			SessionTTL: time.Hour,
			RateLimit:  1,
			RateBurst:  5,
		},
		Webhook: WebhookTuning{
			Tolerance:       5 * time.Minute,
			DedupTTL:        24 * time.Hour,
			ProcessingLease: 30 * time.Second,
		},
	}
}

type TuningHolder struct {
	current atomic.Value // holds Tuning
}

// NewTuningHolder reads checkout.yml from the usual locations and watches it for changes.
func NewTuningHolder(log *zap.Logger) (*TuningHolder, error) {
	v := viper.New()
	v.SetConfigName("checkout")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/coursemart/config")
	v.AddConfigPath("/etc/coursemart")
	v.AddConfigPath(".")
	return newTuningHolder(v, log)
}

// NewStaticTuningHolder returns a holder that never reloads.
func NewStaticTuningHolder(t Tuning) *TuningHolder {
	holder := &TuningHolder{}
	holder.current.Store(t.withDefaults())
	return holder
}

func newTuningHolder(v *viper.Viper, log *zap.Logger) (*TuningHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.tuning")

	v.SetEnvPrefix("COURSEMART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	cfg, err := decodeTuning(v)
	if err != nil {
		return nil, err
	}

	holder := &TuningHolder{}
	holder.current.Store(cfg)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeTuning(v)
			if err != nil {
				log.Warn("tuning reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("tuning reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func decodeTuning(v *viper.Viper) (Tuning, error) {
	cfg := DefaultTuning()
	if err := v.Unmarshal(&cfg); err != nil {
		return Tuning{}, err
	}
	cfg = cfg.withDefaults()
	if err := validateTuning(cfg); err != nil {
		return Tuning{}, err
	}
	return cfg, nil
}

func (h *TuningHolder) Get() Tuning {
	if h == nil {
		return DefaultTuning()
	}
	cfg, ok := h.current.Load().(Tuning)
	if !ok {
		return DefaultTuning()
	}
	return cfg
}

func (t Tuning) withDefaults() Tuning {
	defaults := DefaultTuning()
	if t.Sweeper.RunInterval <= 0 {
		t.Sweeper.RunInterval = defaults.Sweeper.RunInterval
	}
	if t.Sweeper.BatchSize <= 0 {
		t.Sweeper.BatchSize = defaults.Sweeper.BatchSize
	}
	if t.Sweeper.PendingDeadline <= 0 {
		t.Sweeper.PendingDeadline = defaults.Sweeper.PendingDeadline
	}
	if t.Sweeper.HardDeadline <= 0 {
		t.Sweeper.HardDeadline = defaults.Sweeper.HardDeadline
	}
	if t.Sweeper.LockTTL <= 0 {
		t.Sweeper.LockTTL = defaults.Sweeper.LockTTL
	}
	if t.Checkout.SessionTTL <= 0 {
		t.Checkout.SessionTTL = defaults.Checkout.SessionTTL
	}
	if t.Checkout.RateLimit <= 0 {
		t.Checkout.RateLimit = defaults.Checkout.RateLimit
	}
	if t.Checkout.RateBurst <= 0 {
		t.Checkout.RateBurst = defaults.Checkout.RateBurst
	}
	if t.Webhook.Tolerance <= 0 {
		t.Webhook.Tolerance = defaults.Webhook.Tolerance
	}
	if t.Webhook.DedupTTL <= 0 {
		t.Webhook.DedupTTL = defaults.Webhook.DedupTTL
	}
	if t.Webhook.ProcessingLease <= 0 {
		t.Webhook.ProcessingLease = defaults.Webhook.ProcessingLease
	}
	return t
}

func validateTuning(t Tuning) error {
	if t.Sweeper.HardDeadline < t.Sweeper.PendingDeadline {
		return errors.New("sweeper.hardDeadline must not be shorter than sweeper.pendingDeadline")
	}
	if t.Sweeper.PendingDeadline < t.Checkout.SessionTTL {
		return errors.New("sweeper.pendingDeadline must not be shorter than checkout.sessionTTL")
	}
	if t.Webhook.ProcessingLease > t.Webhook.DedupTTL {
		return errors.New("webhook.processingLease must not exceed webhook.dedupTTL")
	}
	if t.Checkout.SessionTTL < 30*time.Minute || t.Checkout.SessionTTL > 24*time.Hour {
		return errors.New("checkout.sessionTTL must be between 30m and 24h")
	}
	return nil
}
