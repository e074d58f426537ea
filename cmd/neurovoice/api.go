package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/Abhiraj-ux/neuro-voice/internal/analysis"
	"github.com/Abhiraj-ux/neuro-voice/internal/capture"
	"github.com/Abhiraj-ux/neuro-voice/internal/config"
	"github.com/Abhiraj-ux/neuro-voice/internal/fusion"
	"github.com/Abhiraj-ux/neuro-voice/internal/health"
	"github.com/Abhiraj-ux/neuro-voice/internal/monitor"
	"github.com/Abhiraj-ux/neuro-voice/internal/session"
	"github.com/Abhiraj-ux/neuro-voice/internal/tap"
)

// api bundles the components behind the local HTTP surface.
type api struct {
	cfg          config.Config
	client       *analysis.Client
	backend      *health.Monitor
	session      *session.Session
	recorder     *capture.Recorder
	orchestrator *analysis.Orchestrator
	taps         *tap.Collector
	sampler      *monitor.AmplitudeSampler
	transcriber  *monitor.Transcriber
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/patient", a.selectPatient)
	mux.HandleFunc("GET /api/patient", a.currentPatient)
	mux.HandleFunc("POST /api/recording/start", a.startRecording)
	mux.HandleFunc("POST /api/recording/stop", a.stopRecording)
	mux.HandleFunc("POST /api/recording/cancel", a.cancelRecording)
	mux.HandleFunc("GET /api/recording/status", a.recordingStatus)
	mux.HandleFunc("GET /api/analysis", a.analysisStatus)
	mux.HandleFunc("POST /api/tap/begin", a.tapBegin)
	mux.HandleFunc("POST /api/tap/start", a.tapStart)
	mux.HandleFunc("POST /api/tap/tap", a.tapRecord)
	mux.HandleFunc("POST /api/tap/finish", a.tapFinish)
	mux.HandleFunc("POST /api/tap/reset", a.tapReset)
	mux.HandleFunc("GET /api/tap/status", a.tapStatus)
	mux.HandleFunc("POST /api/imaging", a.setImaging)
	mux.HandleFunc("GET /api/fusion", a.fusionResult)
	mux.HandleFunc("GET /api/backend", a.backendStatus)
	mux.HandleFunc("POST /api/appointments", a.bookAppointment)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *api) selectPatient(w http.ResponseWriter, r *http.Request) {
	var p session.Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if p.ID <= 0 || p.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "patient id and name required"})
		return
	}
	a.session.SetPatient(p)
	a.orchestrator.Reset()
	a.taps.Reset()
	log.Printf("Patient selected: %d (%s)", p.ID, p.Name)
	writeJSON(w, http.StatusOK, p)
}

func (a *api) currentPatient(w http.ResponseWriter, r *http.Request) {
	p := a.session.Patient()
	if p == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no patient selected"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) startRecording(w http.ResponseWriter, r *http.Request) {
	if err := a.recorder.Start(r.Context()); err != nil {
		status := http.StatusConflict
		switch {
		case errors.Is(err, capture.ErrNoSubject):
			status = http.StatusPreconditionFailed
		case errors.Is(err, capture.ErrBackendOffline),
			errors.Is(err, capture.ErrModelNotReady),
			errors.Is(err, capture.ErrBackendChecking):
			status = http.StatusServiceUnavailable
		case errors.Is(err, capture.ErrPermissionDenied):
			status = http.StatusForbidden
		case errors.Is(err, capture.ErrDeviceNotFound):
			status = http.StatusNotFound
		}
		writeErr(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, a.recorder.Status())
}

// stopRecording finalizes the clip. When it passes the sanity floors the
// recorder's OnStop hook hands it straight to the analysis orchestrator.
func (a *api) stopRecording(w http.ResponseWriter, r *http.Request) {
	if err := a.recorder.Stop(); err != nil {
		status := http.StatusConflict
		if errors.Is(err, capture.ErrEmptyRecording) {
			status = http.StatusUnprocessableEntity
		}
		writeErr(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recording": a.recorder.Status(),
		"analysis":  a.orchestrator.Status(),
	})
}

func (a *api) cancelRecording(w http.ResponseWriter, r *http.Request) {
	a.recorder.Cancel()
	a.orchestrator.Reset()
	writeJSON(w, http.StatusOK, a.recorder.Status())
}

func (a *api) recordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"recording": a.recorder.Status(),
		"analysis":  a.orchestrator.Status(),
	})
}

func (a *api) analysisStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": a.orchestrator.Status()}
	if res := a.orchestrator.Result(); res != nil {
		resp["result"] = res
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) tapBegin(w http.ResponseWriter, r *http.Request) {
	if err := a.taps.Begin(); err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phase": a.taps.Phase().String()})
}

func (a *api) tapStart(w http.ResponseWriter, r *http.Request) {
	if err := a.taps.Start(); err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phase":      a.taps.Phase().String(),
		"window_sec": a.cfg.TapWindowSec,
	})
}

func (a *api) tapRecord(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TimestampMs float64 `json:"timestamp_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := a.taps.Tap(body.TimestampMs); err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"taps": a.taps.TapCount()})
}

func (a *api) tapFinish(w http.ResponseWriter, r *http.Request) {
	series, err := a.taps.Finish()
	if err != nil {
		// The countdown may have closed the window already; hand back the
		// series it computed instead of refusing.
		if errors.Is(err, tap.ErrNotTesting) && a.taps.Phase() == tap.PhaseResult {
			if res := a.taps.Result(); res != nil {
				writeJSON(w, http.StatusOK, res)
				return
			}
		}
		status := http.StatusConflict
		if errors.Is(err, tap.ErrInsufficientTaps) {
			status = http.StatusUnprocessableEntity
		}
		writeErr(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (a *api) tapReset(w http.ResponseWriter, r *http.Request) {
	a.taps.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"phase": a.taps.Phase().String()})
}

func (a *api) tapStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"phase": a.taps.Phase().String(),
		"taps":  a.taps.TapCount(),
	}
	if res := a.taps.Result(); res != nil {
		resp["result"] = res
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) setImaging(w http.ResponseWriter, r *http.Request) {
	var img session.ImagingResult
	if err := json.NewDecoder(r.Body).Decode(&img); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	a.session.SetImaging(img)
	writeJSON(w, http.StatusOK, img)
}

// fusionResult recomputes the fused verdict from whatever domains are on
// the session right now. Never cached.
func (a *api) fusionResult(w http.ResponseWriter, r *http.Request) {
	res, err := a.session.FusionResult()
	if err != nil {
		if errors.Is(err, fusion.ErrMissingDomain) {
			writeErr(w, http.StatusPreconditionFailed, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fusion":  res,
		"domains": a.session.DomainRisks(),
	})
}

func (a *api) backendStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.backend.Snapshot())
}

func (a *api) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req analysis.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	conf, err := a.client.BookAppointment(r.Context(), req)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

// liveSnapshot composes the live monitor view pushed over the WebSocket.
func (a *api) liveSnapshot() any {
	snap := map[string]any{
		"recording": a.recorder.Status(),
		"bars":      a.sampler.Bars(),
		"backend":   a.backend.Snapshot(),
	}
	if a.transcriber != nil {
		snap["transcript"] = a.transcriber.Transcript()
	}
	return snap
}
