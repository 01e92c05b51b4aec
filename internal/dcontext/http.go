package dcontext

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rockslide/rockslide/internal/requestutil"
	"github.com/rockslide/rockslide/internal/uuid"
)

type requestKey struct{}

type requestIDKey struct{}

func (requestIDKey) String() string { return "http.request.id" }

type requestStartKey struct{}

type responseWriterKey struct{}

// WithRequest attaches r to ctx along with a fresh request id and a logger
// carrying the usual http.request.* fields.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	if ctx.Value(requestKey{}) != nil {
		// Attaching twice would shadow the original request id.
		panic("only one request per context")
	}

	id := uuid.NewString()
	ctx = context.WithValue(ctx, requestKey{}, r)
	ctx = context.WithValue(ctx, requestIDKey{}, id)
	ctx = context.WithValue(ctx, requestStartKey{}, time.Now())

	return WithLogger(ctx, entry(ctx).WithFields(logrus.Fields{
		"http.request.id":         id,
		"http.request.method":     r.Method,
		"http.request.uri":        r.RequestURI,
		"http.request.host":       r.Host,
		"http.request.remoteaddr": requestutil.RemoteAddr(r),
		"http.request.useragent":  r.UserAgent(),
	}))
}

// GetRequest returns the request stored by WithRequest.
func GetRequest(ctx context.Context) (*http.Request, bool) {
	r, ok := ctx.Value(requestKey{}).(*http.Request)
	return r, ok
}

// GetRequestID returns the id assigned to the current request, or "".
func GetRequestID(ctx context.Context) string {
	return GetStringValue(ctx, requestIDKey{})
}

// WithVars adds the gorilla/mux path variables of r to the context logger
// as vars.<name> fields.
func WithVars(ctx context.Context, r *http.Request) context.Context {
	vars := mux.Vars(r)
	if len(vars) == 0 {
		return ctx
	}
	fields := make(logrus.Fields, len(vars))
	for k, v := range vars {
		fields["vars."+k] = v
	}
	return WithLogger(ctx, entry(ctx).WithFields(fields))
}

// WithResponseWriter wraps w so the status code and byte count can be
// reported by GetResponseLogger.
func WithResponseWriter(ctx context.Context, w http.ResponseWriter) (context.Context, http.ResponseWriter) {
	irw := &instrumentedResponseWriter{ResponseWriter: w}
	return context.WithValue(ctx, responseWriterKey{}, irw), irw
}

// GetResponseWriter returns the writer installed by WithResponseWriter.
func GetResponseWriter(ctx context.Context) (http.ResponseWriter, bool) {
	w, ok := ctx.Value(responseWriterKey{}).(*instrumentedResponseWriter)
	if !ok {
		return nil, false
	}
	return w, true
}

// GetResponseLogger returns a logger with http.response.* fields describing
// what has been written so far.
func GetResponseLogger(ctx context.Context) Logger {
	l := entry(ctx)
	if w, ok := ctx.Value(responseWriterKey{}).(*instrumentedResponseWriter); ok {
		l = l.WithFields(logrus.Fields{
			"http.response.status":  w.Status(),
			"http.response.written": w.written,
		})
	}
	if start, ok := ctx.Value(requestStartKey{}).(time.Time); ok {
		l = l.WithField("http.response.duration", time.Since(start).String())
	}
	return l
}

type instrumentedResponseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *instrumentedResponseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *instrumentedResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *instrumentedResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Status returns the status written so far, or 0 if none.
func (w *instrumentedResponseWriter) Status() int {
	return w.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *instrumentedResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
