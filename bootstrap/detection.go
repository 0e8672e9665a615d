package bootstrap

import (
	"fmt"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"
	"github.com/drake-forum/technoshield/detect"
	"github.com/drake-forum/technoshield/ingest"
	"github.com/drake-forum/technoshield/pipeline"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// DetectionSettings turns the detection config into detector settings.
// Empty keyword lists keep the built-in defaults; a keyword file, when
// configured, overrides both.
func DetectionSettings(cfg config.DetectionConfig, sugar *zap.SugaredLogger) (detect.Settings, error) {
	s := detect.DefaultSettings()
	s.AuthFailureThreshold = cfg.AuthFailureThreshold
	s.PortScanThreshold = cfg.PortScanThreshold
	s.LargeTransferBytes = cfg.LargeTransferBytes
	s.OffHoursTransferBytes = cfg.OffHoursTransferBytes
	s.OffHoursStart = cfg.OffHoursStart
	s.OffHoursEnd = cfg.OffHoursEnd
	if len(cfg.TrustedDomains) > 0 {
		s.TrustedDomains = cfg.TrustedDomains
	}
	if len(cfg.SensitiveKeywords) > 0 {
		s.SensitiveKeywords = cfg.SensitiveKeywords
	}
	if len(cfg.MalwareKeywords) > 0 {
		s.MalwareKeywords = cfg.MalwareKeywords
	}
	if len(cfg.AuthFailureTerms) > 0 {
		s.AuthFailureTerms = cfg.AuthFailureTerms
	}

	if cfg.KeywordFile != "" {
		kf, err := detect.LoadKeywordFile(cfg.KeywordFile, sugar)
		if err != nil {
			return s, err
		}
		s = kf.Apply(s)
	}

	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid detection settings: %w", err)
	}
	return s, nil
}

// InitCoordinator builds the normalize, detect and deduplicate pipeline
func InitCoordinator(cfg *config.Config, clock core.Clock, metrics pipeline.MetricsSink, sugar *zap.SugaredLogger) (*pipeline.Coordinator, error) {
	settings, err := DetectionSettings(cfg.Detection, sugar)
	if err != nil {
		return nil, err
	}

	engine, err := detect.NewEngine(settings,
		detect.WithLogger(sugar),
		detect.WithClock(clock),
		detect.WithParallel(cfg.Pipeline.ParallelDetectors))
	if err != nil {
		return nil, fmt.Errorf("failed to create detection engine: %w", err)
	}

	names := make([]string, 0, len(engine.Detectors()))
	for _, d := range engine.Detectors() {
		names = append(names, d.Name())
	}
	sugar.Infow("Detection engine ready",
		"detectors", names,
		"auth_failure_threshold", settings.AuthFailureThreshold,
		"port_scan_threshold", settings.PortScanThreshold)

	normalizer := ingest.NewNormalizer(sugar, clock, nil)
	return pipeline.NewCoordinator(normalizer, engine,
		pipeline.WithLogger(sugar),
		pipeline.WithClock(clock),
		pipeline.WithMetrics(metrics),
		pipeline.WithTracerProvider(otel.GetTracerProvider()),
		pipeline.WithTimeout(cfg.Pipeline.RunTimeout)), nil
}
