package framer

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/serialframe/internal/httputil"
)

// PacketStatsView is the JSON shape of one header in the admin stats route.
type PacketStatsView struct {
	Header       string     `json:"header"`
	Name         string     `json:"name"`
	Size         int        `json:"size"`
	Count        uint64     `json:"count"`
	Errors       uint64     `json:"errors"`
	LastReceived *time.Time `json:"last_received"`
}

// ReaderStatusView is the JSON body of the admin stats route.
type ReaderStatusView struct {
	State    string            `json:"state"`
	Open     bool              `json:"open"`
	Received uint64            `json:"bytes_received"`
	Desyncs  uint64            `json:"desyncs"`
	Packets  []PacketStatsView `json:"packets"`
}

// StatusView assembles the Reader's state and per-header statistics ordered
// by header.
func (r *Reader) StatusView() ReaderStatusView {
	stats := r.PacketStats()
	configs := r.registry.Configs()

	view := ReaderStatusView{
		State:    r.State().String(),
		Open:     r.IsOpen(),
		Received: r.Received(),
		Desyncs:  r.Desyncs(),
		Packets:  make([]PacketStatsView, 0, len(configs)),
	}
	for _, cfg := range configs {
		s, ok := stats[cfg.Header]
		if !ok {
			// removed between the two reads
			continue
		}
		pv := PacketStatsView{
			Header: fmt.Sprintf("0x%02X", cfg.Header),
			Name:   cfg.Name,
			Size:   cfg.Size,
			Count:  s.Count,
			Errors: s.Errors,
		}
		if !s.LastReceived.IsZero() {
			t := s.LastReceived
			pv.LastReceived = &t
		}
		view.Packets = append(view.Packets, pv)
	}
	return view
}

// eventView is the JSON payload of one server-sent event on the tail route.
type eventView struct {
	Kind      string `json:"kind"`
	Time      string `json:"time"`
	Name      string `json:"name,omitempty"`
	Packet    string `json:"packet,omitempty"`
	Error     string `json:"error,omitempty"`
	Connected *bool  `json:"connected,omitempty"`
	Dropped   string `json:"dropped,omitempty"`
}

func newEventView(ev Event) eventView {
	v := eventView{Kind: ev.Kind.String(), Time: ev.Time.Format(time.RFC3339Nano)}
	switch ev.Kind {
	case EventPacket:
		v.Name = ev.Config.Name
		v.Packet = strings.ToUpper(hex.EncodeToString(ev.Packet))
	case EventError:
		if ev.Err != nil {
			v.Error = ev.Err.Error()
		}
	case EventStatus:
		connected := ev.Connected
		v.Connected = &connected
	case EventDesync:
		v.Dropped = fmt.Sprintf("%02X", ev.Dropped)
	}
	return v
}

// parseHexPayload accepts "DD0102", "DD 01 02" or "0xDD,0x01".
func parseHexPayload(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ",", "", "0x", "", "0X", "", "\n", "", "\t", "").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("empty payload")
	}
	return hex.DecodeString(s)
}

// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
// mux served at /debug/. These routes are accessible only over
// localhost/via Tailscale and are not publicly accessible.
func (r *Reader) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("packets", "packet table and delivery statistics (JSON)", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSONOK(w, r.StatusView())
	})

	debug.HandleFunc("packet-chart", "per-header packet and error counts", func(w http.ResponseWriter, req *http.Request) {
		view := r.StatusView()

		names := make([]string, 0, len(view.Packets))
		counts := make([]opts.BarData, 0, len(view.Packets))
		errs := make([]opts.BarData, 0, len(view.Packets))
		for _, p := range view.Packets {
			names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Header))
			counts = append(counts, opts.BarData{Value: p.Count})
			errs = append(errs, opts.BarData{Value: p.Errors})
		}

		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: "Packet statistics", Width: "900px", Height: "500px"}),
			charts.WithTitleOpts(opts.Title{Title: "Packets by header", Subtitle: fmt.Sprintf("state=%s desyncs=%d bytes=%d", view.State, view.Desyncs, view.Received)}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		)
		bar.SetXAxis(names).
			AddSeries("count", counts).
			AddSeries("errors", errs)

		var buf bytes.Buffer
		if err := bar.Render(&buf); err != nil {
			http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})

	// API endpoint to write raw bytes (hex encoded) to the serial port
	debug.HandleSilentFunc("send", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			httputil.MethodNotAllowed(w, http.MethodPost)
			return
		}
		payload, err := parseHexPayload(req.FormValue("hex"))
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid hex payload: %v", err))
			return
		}
		if err := r.Send(payload); err != nil {
			if errors.Is(err, ErrNotConnected) {
				httputil.ServiceUnavailable(w, err.Error())
				return
			}
			httputil.InternalServerError(w, fmt.Sprintf("failed to send: %v", err))
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{
			"written": fmt.Sprintf("% X", payload),
			"bytes":   len(payload),
		})
	})

	// API endpoint to issue Server-Side Events (SSE) for every reader notification.
	debug.HandleSilentFunc("packet-tail", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := r.Subscribe()
		defer r.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				data, err := json.Marshal(newEventView(ev))
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
					return
				}
				flusher.Flush()
			case <-req.Context().Done():
				return
			}
		}
	})
}
