// Package ops loads the gateway configuration file.
package ops

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"tradecore/internal/chaos"
	"tradecore/internal/recorder"
	"tradecore/internal/risk"
	"tradecore/internal/session"
	"tradecore/pkg/conn"
	"tradecore/pkg/exception"
)

const (
	TransportSim = "sim"
	TransportWS  = "ws"
)

// FileConfig mirrors the config file layout. Durations are Go duration
// strings and decimals are decimal strings.
type FileConfig struct {
	Session  SessionConfig   `json:"session" yaml:"session"`
	Risk     RiskConfig      `json:"risk" yaml:"risk"`
	Recorder *RecorderConfig `json:"recorder" yaml:"recorder"`
	Journal  *conn.Option    `json:"journal" yaml:"journal"`
	Metrics  MetricsConfig   `json:"metrics" yaml:"metrics"`
	Profiler *ProfilerConfig `json:"profiler" yaml:"profiler"`
	Chaos    *chaos.Config   `json:"chaos" yaml:"chaos"`
}

// SessionConfig describes the broker connection.
type SessionConfig struct {
	Transport         string `json:"transport" yaml:"transport"`
	Endpoint          string `json:"endpoint" yaml:"endpoint"`
	ClientID          int64  `json:"clientId" yaml:"clientId"`
	Account           string `json:"account" yaml:"account"`
	ConnectTimeout    string `json:"connectTimeout" yaml:"connectTimeout"`
	RequestTimeout    string `json:"requestTimeout" yaml:"requestTimeout"`
	HistoricalTimeout string `json:"historicalTimeout" yaml:"historicalTimeout"`
	IdleTimeout       string `json:"idleTimeout" yaml:"idleTimeout"`
	MaxTickByTick     int    `json:"maxTickByTick" yaml:"maxTickByTick"`
	MaxBatch          int    `json:"maxBatch" yaml:"maxBatch"`
	Sync              bool   `json:"sync" yaml:"sync"`
}

// RiskConfig describes the pre-trade guard.
type RiskConfig struct {
	KillSwitch           bool   `json:"killSwitch" yaml:"killSwitch"`
	MaxOrderQty          string `json:"maxOrderQty" yaml:"maxOrderQty"`
	MaxOrderNotional     string `json:"maxOrderNotional" yaml:"maxOrderNotional"`
	MaxPosition          string `json:"maxPosition" yaml:"maxPosition"`
	OrderRateLimit       int    `json:"orderRateLimit" yaml:"orderRateLimit"`
	OrderRateWindow      string `json:"orderRateWindow" yaml:"orderRateWindow"`
	MaxPriceDeviationBps int64  `json:"maxPriceDeviationBps" yaml:"maxPriceDeviationBps"`
}

// RecorderConfig describes the event tape.
type RecorderConfig struct {
	Dir                string `json:"dir" yaml:"dir"`
	FilePrefix         string `json:"filePrefix" yaml:"filePrefix"`
	SegmentMaxBytes    int64  `json:"segmentMaxBytes" yaml:"segmentMaxBytes"`
	SegmentMaxDuration string `json:"segmentMaxDuration" yaml:"segmentMaxDuration"`
	QueueSize          int    `json:"queueSize" yaml:"queueSize"`
	FlushInterval      string `json:"flushInterval" yaml:"flushInterval"`
}

type MetricsConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

// ProfilerConfig points continuous profiling at a pyroscope server.
type ProfilerConfig struct {
	ServerAddress   string `json:"serverAddress" yaml:"serverAddress"`
	ApplicationName string `json:"applicationName" yaml:"applicationName"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Transport     string
	Session       session.Config
	Sync          bool
	Risk          risk.Config
	Recorder      *recorder.Config
	Journal       *conn.Option
	MetricsListen string
	Profiler      *ProfilerConfig
	Chaos         *chaos.Config
}

// Load reads a JSON or YAML config file, chosen by extension.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrapf(err, "read config %s", path)
	}
	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = sonic.ConfigStd.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Loaded{}, errors.Wrapf(exception.ErrInvalidArgument, "parse config %s: %s", path, err)
	}
	return Resolve(cfg)
}

// Resolve validates a parsed file and converts it into runtime settings.
func Resolve(cfg FileConfig) (Loaded, error) {
	sess, err := resolveSession(cfg.Session)
	if err != nil {
		return Loaded{}, err
	}
	riskCfg, err := resolveRisk(cfg.Risk)
	if err != nil {
		return Loaded{}, err
	}
	out := Loaded{
		Transport:     cfg.Session.Transport,
		Session:       sess,
		Sync:          cfg.Session.Sync,
		Risk:          riskCfg,
		Journal:       cfg.Journal,
		MetricsListen: cfg.Metrics.Listen,
		Profiler:      cfg.Profiler,
		Chaos:         cfg.Chaos,
	}
	if out.Transport == "" {
		out.Transport = TransportSim
	}
	switch out.Transport {
	case TransportSim:
	case TransportWS:
		if sess.Endpoint == "" {
			return Loaded{}, invalid("session endpoint is required for the ws transport")
		}
	default:
		return Loaded{}, invalid("unknown transport %q", out.Transport)
	}

	if cfg.Recorder != nil {
		rec, err := resolveRecorder(*cfg.Recorder)
		if err != nil {
			return Loaded{}, err
		}
		out.Recorder = &rec
	}
	if cfg.Profiler != nil && cfg.Profiler.ServerAddress == "" {
		return Loaded{}, invalid("profiler server address is empty")
	}
	if cfg.Chaos != nil {
		if _, err := chaos.NewEngine(*cfg.Chaos); err != nil {
			return Loaded{}, invalid("chaos: %s", err)
		}
	}
	return out, nil
}

func resolveSession(cfg SessionConfig) (session.Config, error) {
	if cfg.ClientID < 0 {
		return session.Config{}, invalid("client id must be >= 0")
	}
	out := session.Config{
		Endpoint:      cfg.Endpoint,
		ClientID:      cfg.ClientID,
		Account:       cfg.Account,
		MaxTickByTick: cfg.MaxTickByTick,
		MaxBatch:      cfg.MaxBatch,
	}
	var err error
	if out.ConnectTimeout, err = parseDuration("session connectTimeout", cfg.ConnectTimeout); err != nil {
		return session.Config{}, err
	}
	if out.RequestTimeout, err = parseDuration("session requestTimeout", cfg.RequestTimeout); err != nil {
		return session.Config{}, err
	}
	if out.HistoricalTimeout, err = parseDuration("session historicalTimeout", cfg.HistoricalTimeout); err != nil {
		return session.Config{}, err
	}
	if out.IdleTimeout, err = parseDuration("session idleTimeout", cfg.IdleTimeout); err != nil {
		return session.Config{}, err
	}
	return out, nil
}

func resolveRisk(cfg RiskConfig) (risk.Config, error) {
	out := risk.Config{
		KillSwitch:           cfg.KillSwitch,
		OrderRateLimit:       cfg.OrderRateLimit,
		MaxPriceDeviationBps: cfg.MaxPriceDeviationBps,
	}
	var err error
	if out.MaxOrderQty, err = parseDecimal("risk maxOrderQty", cfg.MaxOrderQty); err != nil {
		return risk.Config{}, err
	}
	if out.MaxOrderNotional, err = parseDecimal("risk maxOrderNotional", cfg.MaxOrderNotional); err != nil {
		return risk.Config{}, err
	}
	if out.MaxPosition, err = parseDecimal("risk maxPosition", cfg.MaxPosition); err != nil {
		return risk.Config{}, err
	}
	if out.OrderRateWindow, err = parseDuration("risk orderRateWindow", cfg.OrderRateWindow); err != nil {
		return risk.Config{}, err
	}
	if out.OrderRateLimit < 0 || out.MaxPriceDeviationBps < 0 {
		return risk.Config{}, invalid("risk limits must be >= 0")
	}
	if out.OrderRateLimit > 0 && out.OrderRateWindow <= 0 {
		return risk.Config{}, invalid("risk orderRateWindow is required with orderRateLimit")
	}
	return out, nil
}

func resolveRecorder(cfg RecorderConfig) (recorder.Config, error) {
	out := recorder.DefaultConfig(cfg.Dir)
	if cfg.FilePrefix != "" {
		out.FilePrefix = cfg.FilePrefix
	}
	if cfg.SegmentMaxBytes > 0 {
		out.SegmentMaxBytes = cfg.SegmentMaxBytes
	}
	if cfg.QueueSize > 0 {
		out.QueueSize = cfg.QueueSize
	}
	d, err := parseDuration("recorder segmentMaxDuration", cfg.SegmentMaxDuration)
	if err != nil {
		return recorder.Config{}, err
	}
	if d > 0 {
		out.SegmentMaxDuration = d
	}
	if d, err = parseDuration("recorder flushInterval", cfg.FlushInterval); err != nil {
		return recorder.Config{}, err
	}
	if d > 0 {
		out.FlushInterval = d
	}
	if err := out.Validate(); err != nil {
		return recorder.Config{}, err
	}
	return out, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, invalid("%s: %s", name, err)
	}
	if d < 0 {
		return 0, invalid("%s must be >= 0", name)
	}
	return d, nil
}

func parseDecimal(name, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, invalid("%s: %s", name, err)
	}
	if d.IsNegative() {
		return decimal.Zero, invalid("%s must be >= 0", name)
	}
	return d, nil
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(exception.ErrInvalidArgument, format, args...)
}
