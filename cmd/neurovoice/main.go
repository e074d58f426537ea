// Command neurovoice runs the local capture and screening service: it
// records voice from a microphone (local device or browser over WebRTC),
// ships finished recordings to the analysis backend, runs the finger-tap
// motor test, and fuses the collected domains into one screening verdict.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Abhiraj-ux/neuro-voice/internal/analysis"
	"github.com/Abhiraj-ux/neuro-voice/internal/capture"
	"github.com/Abhiraj-ux/neuro-voice/internal/config"
	"github.com/Abhiraj-ux/neuro-voice/internal/health"
	"github.com/Abhiraj-ux/neuro-voice/internal/monitor"
	"github.com/Abhiraj-ux/neuro-voice/internal/session"
	"github.com/Abhiraj-ux/neuro-voice/internal/stream"
	"github.com/Abhiraj-ux/neuro-voice/internal/tap"
)

func main() {
	cfg := config.Load()
	log.Printf("NeuroVoice starting: backend=%s port=%d", cfg.BackendURL, cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := analysis.NewClient(cfg.BackendURL, cfg.AnalysisTimeout, cfg.ProbeTimeout)

	backend := health.NewMonitor(client, cfg.HealthInterval, cfg.ProbeTimeout)
	go backend.Run(ctx)

	sess := session.New()

	broadcaster := stream.NewBroadcaster()
	sampler := monitor.NewAmplitudeSampler(broadcaster)

	monitors := []capture.Monitor{sampler}
	var transcriber *monitor.Transcriber
	if cfg.ASRSocketURL != "" {
		transcriber = monitor.NewTranscriber(cfg.ASRSocketURL, broadcaster)
		monitors = append(monitors, transcriber)
		log.Printf("Streaming transcription enabled: %s", cfg.ASRSocketURL)
	}

	ingest := stream.NewWebRTCIngest()
	var source capture.SourceFactory
	if cfg.InputDevice != "" {
		device := cfg.InputDevice
		source = func(ctx context.Context) (capture.Source, error) {
			return capture.NewFFmpegSource(ctx, device)
		}
		log.Printf("Capture source: local device %s", device)
	} else {
		source = func(context.Context) (capture.Source, error) {
			return ingest.Source()
		}
		log.Printf("Capture source: browser microphone over WebRTC")
	}

	recorder := capture.NewRecorder(
		capture.RecorderConfig{
			CeilingSec: cfg.RecordingCeiling,
			MinSec:     cfg.MinRecordingSec,
			MinBytes:   cfg.MinRecordingSize,
		},
		source,
		backend,
		sess.HasPatient,
		broadcaster,
		monitors...,
	)

	orchestrator := analysis.NewOrchestrator(client, cfg.StepInterval, func(r *analysis.Result) {
		sess.SetVocal(r)
	})

	// Every successful stop, manual or ceiling-triggered, submits the clip.
	recorder.OnStop(func(clip *capture.Clip) {
		p := sess.Patient()
		if p == nil {
			return
		}
		lang := p.Language
		if lang == "" {
			lang = cfg.Language
		}
		if err := orchestrator.Start(context.Background(), clip.Blob, clip.Ext, p.ID, lang); err != nil {
			log.Printf("Analysis not started: %v", err)
		}
	})

	taps := tap.NewCollector(cfg.TapWindowSec)
	// The countdown finishes the test on its own; the hook covers that
	// path as well as an explicit early finish.
	taps.OnFinish(func(s *tap.Series) {
		sess.SetMotor(s)
	})

	api := &api{
		cfg:          cfg,
		client:       client,
		backend:      backend,
		session:      sess,
		recorder:     recorder,
		orchestrator: orchestrator,
		taps:         taps,
		sampler:      sampler,
		transcriber:  transcriber,
	}

	mux := http.NewServeMux()
	api.routes(mux)
	mux.Handle("/ws/monitor", stream.NewLiveHandler(api.liveSnapshot, 50*time.Millisecond))
	mux.HandleFunc("/webrtc/offer", ingest.OfferHandler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		log.Printf("Shutting down")
		recorder.Cancel()
		orchestrator.Reset()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}
