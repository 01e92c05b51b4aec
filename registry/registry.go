package registry

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	logstash "github.com/bshuster-repo/logrus-logstash-hook"
	"github.com/docker/go-metrics"
	gorhandlers "github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"

	"github.com/rockslide/rockslide/configuration"
	"github.com/rockslide/rockslide/internal/dcontext"
	prometheus "github.com/rockslide/rockslide/metrics"
	"github.com/rockslide/rockslide/registry/api/errcode"
	"github.com/rockslide/rockslide/registry/handlers"
	"github.com/rockslide/rockslide/version"
)

// quit receives the signals that stop a running registry.
var quit = make(chan os.Signal, 1)

// defaultPrometheusPath is where metrics are served on the debug server
// when no path is configured.
const defaultPrometheusPath = "/metrics"

// A Registry represents a complete instance of the registry.
type Registry struct {
	config *configuration.Configuration
	app    *handlers.App
	server *http.Server
}

// NewRegistry creates a new registry from a context and configuration struct.
func NewRegistry(ctx context.Context, config *configuration.Configuration) (*Registry, error) {
	var err error
	ctx, err = configureLogging(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error configuring logger: %w", err)
	}

	if config.HTTP.Debug.Prometheus.Enabled {
		prometheus.Register()
	}

	app, err := handlers.NewApp(ctx, config)
	if err != nil {
		return nil, err
	}

	var handler http.Handler = app
	handler = panicHandler(handler)
	if !config.Log.AccessLog.Disabled {
		handler = gorhandlers.CombinedLoggingHandler(os.Stdout, handler)
	}
	handler = alive("/", handler)

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: time.Minute,
	}

	return &Registry{
		app:    app,
		config: config,
		server: server,
	}, nil
}

// ListenAndServe runs the registry's HTTP server until it fails or a stop
// signal arrives, in which case in-flight requests are drained for up to
// http.draintimeout.
func (registry *Registry) ListenAndServe() error {
	network := registry.config.HTTP.Net
	if network == "" {
		network = "tcp"
	}

	ln, err := net.Listen(network, registry.config.HTTP.Addr)
	if err != nil {
		return err
	}

	return registry.serve(ln)
}

func (registry *Registry) serve(ln net.Listener) error {
	config := registry.config

	if config.HTTP.Debug.Addr != "" {
		go func(addr string) {
			dcontext.GetLogger(registry.app).Infof("debug server listening %v", addr)
			if err := http.ListenAndServe(addr, debugHandler(config)); err != nil {
				dcontext.GetLogger(registry.app).Fatalf("error listening on debug interface: %v", err)
			}
		}(config.HTTP.Debug.Addr)
	}

	dcontext.GetLogger(registry.app).Infof("listening on %v", ln.Addr())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- registry.server.Serve(ln)
	}()

	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serveErr:
		registry.app.Shutdown()
		return err
	case <-quit:
		dcontext.GetLogger(registry.app).Info("stopping server gracefully. Draining connections for ", config.HTTP.DrainTimeout)

		// shutdown the server with a grace period of configured timeout
		c, cancel := context.WithTimeout(context.Background(), config.HTTP.DrainTimeout)
		defer cancel()

		err := registry.server.Shutdown(c)
		return errors.Join(err, registry.app.Shutdown())
	}
}

// debugHandler serves expvar, pprof and, when enabled, prometheus metrics.
func debugHandler(config *configuration.Configuration) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if config.HTTP.Debug.Prometheus.Enabled {
		path := config.HTTP.Debug.Prometheus.Path
		if path == "" {
			path = defaultPrometheusPath
		}
		mux.Handle(path, metrics.Handler())
	}
	return mux
}

// configureLogging prepares the context with a logger using the
// configuration.
func configureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	logrus.SetLevel(logLevel(config.Log.Level))
	logrus.SetReportCaller(config.Log.ReportCaller)

	formatter := config.Log.Formatter
	if formatter == "" {
		formatter = "text" // default formatter
	}

	switch formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:   time.RFC3339Nano,
			DisableHTMLEscape: true,
		})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	case "logstash":
		logrus.SetFormatter(&logstash.LogstashFormatter{
			Formatter: &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano},
		})
	default:
		return ctx, fmt.Errorf("unsupported logging formatter: %q", config.Log.Formatter)
	}

	logrus.Debugf("using %q logging formatter", formatter)

	// log the application version with messages
	ctx = dcontext.WithVersion(ctx, version.Version())

	if len(config.Log.Fields) > 0 {
		// build up the static fields, if present.
		fields := make(map[any]any, len(config.Log.Fields))
		for k, v := range config.Log.Fields {
			fields[k] = v
		}
		ctx = dcontext.WithLogger(ctx, dcontext.GetLoggerWithFields(ctx, fields))
	}

	dcontext.SetDefaultLogger(dcontext.GetLogger(ctx))
	return ctx, nil
}

func logLevel(level configuration.Loglevel) logrus.Level {
	l, err := logrus.ParseLevel(string(level))
	if err != nil {
		l = logrus.InfoLevel
		logrus.Warnf("error parsing level %q: %v, using %q", level, err, l)
	}

	return l
}

// panicHandler recovers a panic in handler, logs it with its stack and
// answers the request with a 500 when nothing has been written yet.
func panicHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				dcontext.GetLogger(r.Context()).WithField("stack", string(debug.Stack())).Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, err)
				errcode.ServeJSON(w, errcode.ErrorCodeUnknown)
			}
		}()
		handler.ServeHTTP(w, r)
	})
}

// alive simply wraps the handler with a route that always returns an http 200
// response when the path is matched. If the path is not matched, the request
// is passed to the provided handler. There is no guarantee of anything but
// that the server is up.
func alive(path string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == path {
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			return
		}

		handler.ServeHTTP(w, r)
	})
}
