package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gyrofusion/internal/ahrs"
)

const streamKeepAlive = 15 * time.Second

// Controller is the part of ahrs.Service the HTTP surface needs.
type Controller interface {
	Snapshot() ahrs.Snapshot
	Reset() ahrs.Snapshot
}

type Deps struct {
	AHRS   Controller
	Stream *OrientationBroadcaster
	Logs   *LogBuffer
	// Link reports GDL90 output counters; nil when the output is disabled.
	Link    func() LinkStatus
	Source  string
	Started time.Time
}

func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, buildStatus(time.Now(), d))
	})

	mux.HandleFunc("/api/orientation", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if d.AHRS == nil {
			http.Error(w, "ahrs unavailable", http.StatusNotFound)
			return
		}
		writeJSON(w, NewOrientationView(d.AHRS.Snapshot()))
	})

	mux.HandleFunc("/api/orientation/stream", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if d.Stream == nil {
			http.Error(w, "stream unavailable", http.StatusNotFound)
			return
		}
		serveStream(w, r, d.Stream)
	})

	mux.HandleFunc("/api/ahrs/reset", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if d.AHRS == nil {
			http.Error(w, "ahrs unavailable", http.StatusNotFound)
			return
		}
		writeJSON(w, NewOrientationView(d.AHRS.Reset()))
	})

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, indexHTML)
	})

	return mux
}

// serveStream writes server-sent events until the client goes away. Each event carries one
// OrientationView as JSON.
func serveStream(w http.ResponseWriter, r *http.Request, b *OrientationBroadcaster) {
	rc := http.NewResponseController(w)
	// The server's write timeout would otherwise cut long-lived streams.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	id, ch := b.Subscribe(4)
	defer b.Unsubscribe(id)

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case v, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(v)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: orientation\ndata: %s\n\n", payload); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func Serve(ctx context.Context, listenAddr string, h http.Handler, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
		// Request contexts end with ctx so open streams return before Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Infow("web listening", "addr", listenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web: listen %s: %w", listenAddr, err)
	}
}

const indexHTML = `<!doctype html>
<html><head><meta charset="utf-8"><title>gyrofusion</title>
<style>body{font-family:monospace;margin:2em}td{padding:0 1em}</style></head>
<body>
<h1>gyrofusion</h1>
<table>
<tr><td>phase</td><td id="phase">-</td></tr>
<tr><td>heading</td><td id="heading_deg">-</td></tr>
<tr><td>pitch</td><td id="pitch_deg">-</td></tr>
<tr><td>roll</td><td id="roll_deg">-</td></tr>
<tr><td>yaw rate</td><td id="yaw_rate_dps">-</td></tr>
<tr><td>samples</td><td id="samples">-</td></tr>
</table>
<p><button onclick="fetch('/api/ahrs/reset',{method:'POST'})">Reset</button>
<a href="/api/status">status</a> <a href="/api/logs?format=text">logs</a></p>
<script>
const es = new EventSource('/api/orientation/stream');
es.addEventListener('orientation', (e) => {
  const v = JSON.parse(e.data);
  for (const k of ['phase','heading_deg','pitch_deg','roll_deg','yaw_rate_dps','samples']) {
    const x = v[k];
    document.getElementById(k).textContent = typeof x === 'number' && !Number.isInteger(x) ? x.toFixed(1) : x;
  }
});
</script>
</body></html>
`
