package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zboyco/sparkbeat/pkg/heartbeat"
)

const maxSendBody = 64 << 10

func (g *Gateway) initHealthChecks() {
	if g.cfg.MaxGoroutines > 0 {
		g.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(g.cfg.MaxGoroutines))
	}
	g.health.AddReadinessCheck("spark-listener", func() error {
		if !g.ready.Load() {
			return errors.New("spark listener not started")
		}
		return nil
	})
	g.health.AddReadinessCheck("callback-pool", func() error {
		if g.dispatcher.Closed() {
			return errors.New("callback pool released")
		}
		return nil
	})
}

// Handler 返回管理接口：连接快照、指标与健康检查。
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sparks", g.handleListSparks)
	mux.HandleFunc("GET /sparks/{id}", g.handleGetSpark)
	mux.HandleFunc("POST /sparks/{id}/send", g.handleSendSpark)
	mux.HandleFunc("DELETE /sparks/{id}", g.handleDisconnectSpark)
	mux.Handle("GET /metrics", promhttp.HandlerFor(g.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /live", g.health.LiveEndpoint)
	mux.HandleFunc("GET /ready", g.health.ReadyEndpoint)
	return mux
}

func (g *Gateway) startHTTPServer() {
	if g.cfg.HTTPListen == "" {
		return
	}
	g.httpSrv = &http.Server{
		Addr:              g.cfg.HTTPListen,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		g.logger.Info("http server listening", "addr", g.cfg.HTTPListen)
		if err := g.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("http server stopped", "err", err)
		}
	}()
}

func (g *Gateway) handleListSparks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.registry.Snapshots())
}

func (g *Gateway) handleGetSpark(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := g.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, heartbeat.ErrSparkNotFound)
		return
	}
	st := m.Snapshot()
	cls := heartbeat.Classify(st, m.Policy())
	writeJSON(w, http.StatusOK, heartbeat.Snapshot{
		SparkID: id,
		Class:   cls.Class.String(),
		Version: cls.Version,
		State:   st,
	})
}

func (g *Gateway) handleSendSpark(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := g.Send(r.PathValue("id"), string(body)); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleDisconnectSpark(w http.ResponseWriter, r *http.Request) {
	reconnect := r.URL.Query().Get("reconnect") != "false"
	if err := g.Disconnect(r.PathValue("id"), reconnect); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	if errors.Is(err, heartbeat.ErrSparkNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrMultiLinePayload) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
