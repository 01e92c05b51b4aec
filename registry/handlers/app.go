package handlers

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	events "github.com/docker/go-events"
	"github.com/docker/go-metrics"
	"github.com/gorilla/mux"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/configuration"
	"github.com/rockslide/rockslide/internal/dcontext"
	"github.com/rockslide/rockslide/internal/uuid"
	prometheus "github.com/rockslide/rockslide/metrics"
	"github.com/rockslide/rockslide/notifications"
	"github.com/rockslide/rockslide/registry/api/errcode"
	v2 "github.com/rockslide/rockslide/registry/api/v2"
	"github.com/rockslide/rockslide/registry/auth"
	"github.com/rockslide/rockslide/registry/auth/fixed"
	"github.com/rockslide/rockslide/registry/storage"
	memorycache "github.com/rockslide/rockslide/registry/storage/cache/memory"
	cacheprovider "github.com/rockslide/rockslide/registry/storage/cache/provider"
	rediscache "github.com/rockslide/rockslide/registry/storage/cache/redis"
	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
	"github.com/rockslide/rockslide/registry/storage/driver/factory"
)

// App is a global registry application object. Shared resources can be placed
// on this object that will be accessible from all requests. Any writable
// fields should be protected.
type App struct {
	context.Context

	Config *configuration.Configuration

	// InstanceID is a unique id assigned to the application on each creation.
	// Provides information in the logs and context to identify restarts.
	InstanceID string

	router     *mux.Router                 // main application router, configured with dispatchers
	driver     storagedriver.StorageDriver // driver maintains the app global storage driver instance.
	registry   *storage.Registry           // registry is the primary registry backend for the app instance.
	provider   auth.Provider               // verifies the credentials of every request
	realm      string
	urlBuilder *v2.URLBuilder
	redis      redis.UniversalClient

	// events contains notification related configuration.
	events struct {
		sink   events.Sink
		source notifications.SourceRecord
	}

	cancel context.CancelFunc
}

// NewApp takes a configuration and returns a configured app, ready to serve
// requests. The app only implements ServeHTTP and can be wrapped in other
// handlers accordingly. Background work started by the app stops when ctx
// is cancelled or Shutdown is called.
func NewApp(ctx context.Context, config *configuration.Configuration) (*App, error) {
	ctx, cancel := context.WithCancel(ctx)

	app := &App{
		Config:     config,
		InstanceID: dcontext.GetInstanceID(ctx),
		router:     v2.RouterWithPrefix(config.HTTP.Prefix),
		cancel:     cancel,
	}
	if app.InstanceID == "" {
		app.InstanceID = uuid.NewString()
	}
	app.Context = dcontext.WithLogger(ctx, dcontext.GetLoggerWithField(ctx, "instance.id", app.InstanceID))

	// Register the handler dispatchers.
	app.register(v2.RouteNameBase, func(ctx *Context, r *http.Request) http.Handler {
		return http.HandlerFunc(apiBase)
	})
	app.register(v2.RouteNameManifest, manifestDispatcher)
	app.register(v2.RouteNameTags, tagsDispatcher)
	app.register(v2.RouteNameBlob, blobDispatcher)
	app.register(v2.RouteNameBlobUpload, blobUploadDispatcher)
	app.register(v2.RouteNameBlobUploadChunk, blobUploadDispatcher)
	app.register(v2.RouteNameBlobUploadChunkAlias, blobUploadDispatcher)

	if err := app.configure(config); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

func (app *App) configure(config *configuration.Configuration) error {
	var err error
	app.driver, err = factory.Create(app, config.Storage.Type(), config.Storage.Parameters())
	if err != nil {
		return fmt.Errorf("unable to configure storage driver (%s): %w", config.Storage.Type(), err)
	}

	app.configureRedis(config)

	var options []storage.RegistryOption
	cacheOption, err := app.configureDescriptorCache(config)
	if err != nil {
		return err
	}
	if cacheOption != nil {
		options = append(options, cacheOption)
	}

	app.registry, err = storage.NewRegistry(app, app.driver, options...)
	if err != nil {
		return fmt.Errorf("could not create registry: %w", err)
	}

	purgeOption, err := uploadPurgeOption(config.Storage.UploadPurging())
	if err != nil {
		return fmt.Errorf("unable to parse upload purge configuration: %w", err)
	}
	startUploadPurger(app, app.registry, dcontext.GetLogger(app), purgeOption)

	authType := config.Auth.Type()
	if authType == "" {
		dcontext.GetLogger(app).Warn("no auth provider configured, every request will be rejected")
		app.provider = fixed.DenyAll
	} else {
		app.provider, err = auth.Get(authType, config.Auth.Parameters())
		if err != nil {
			return fmt.Errorf("unable to configure authorization (%s): %w", authType, err)
		}
		dcontext.GetLogger(app).Infof("using %q auth provider", authType)
	}
	app.realm = config.Auth.Realm()

	if err := app.configureURLBuilder(config); err != nil {
		return err
	}

	app.configureEvents(config)
	return nil
}

// Shutdown stops background work and closes connections held by the app.
func (app *App) Shutdown() error {
	app.cancel()

	var errs []error
	if app.events.sink != nil {
		errs = append(errs, app.events.sink.Close())
	}
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	return errors.Join(errs...)
}

// register a handler with the application, by route name. The handler will be
// passed through the application filters and context will be constructed at
// request time.
func (app *App) register(routeName string, dispatch dispatchFunc) {
	var handler http.Handler = app.dispatcher(dispatch)

	if app.Config.HTTP.Debug.Prometheus.Enabled {
		handler = metrics.InstrumentHandler(routeMetrics(routeName), handler)
	}

	app.router.GetRoute(routeName).Handler(handler)
}

var (
	httpMetricsOnce sync.Once
	httpMetrics     map[string][]*metrics.HTTPMetric
)

// routeMetrics returns the request metrics of a route. They are created
// and registered for every route the first time any is asked for.
func routeMetrics(routeName string) []*metrics.HTTPMetric {
	httpMetricsOnce.Do(func() {
		httpMetrics = make(map[string][]*metrics.HTTPMetric)
		for _, descriptor := range v2.RouteDescriptors() {
			namespace := metrics.NewNamespace(prometheus.NamespacePrefix, "http", metrics.Labels{"handler": descriptor.Name})
			httpMetrics[descriptor.Name] = namespace.NewDefaultHttpMetrics(strings.ReplaceAll(descriptor.Name, "-", "_"))
			metrics.Register(namespace)
		}
	})
	return httpMetrics[routeName]
}

// configureEvents prepares the event sink for action.
func (app *App) configureEvents(config *configuration.Configuration) {
	// Configure all of the endpoint sinks.
	var sinks []events.Sink
	for _, endpoint := range config.Notifications.Endpoints {
		if endpoint.Disabled {
			dcontext.GetLogger(app).Infof("endpoint %s disabled, skipping", endpoint.Name)
			continue
		}

		dcontext.GetLogger(app).Infof("configuring endpoint %v (%v), timeout=%s, headers=%v", endpoint.Name, endpoint.URL, endpoint.Timeout, endpoint.Headers)
		endpoint := notifications.NewEndpoint(endpoint.Name, endpoint.URL, notifications.EndpointConfig{
			Timeout:           endpoint.Timeout,
			Threshold:         endpoint.Threshold,
			Backoff:           endpoint.Backoff,
			Headers:           endpoint.Headers,
			IgnoredMediaTypes: append(endpoint.IgnoredMediaTypes, endpoint.Ignore.MediaTypes...),
			Ignore:            endpoint.Ignore.Actions,
		})

		sinks = append(sinks, endpoint)
	}

	app.events.sink = events.NewBroadcaster(sinks...)

	// Populate registry event source
	hostname, err := os.Hostname()
	if err != nil {
		hostname = config.HTTP.Addr
	} else {
		// try to pick the port off the config
		_, port, err := net.SplitHostPort(config.HTTP.Addr)
		if err == nil {
			hostname = net.JoinHostPort(hostname, port)
		}
	}

	app.events.source = notifications.SourceRecord{
		Addr:       hostname,
		InstanceID: app.InstanceID,
	}
}

// configureRedis connects to redis when an address is configured. The
// client is only used by the redis blob descriptor cache.
func (app *App) configureRedis(config *configuration.Configuration) {
	if config.Redis.Addr == "" {
		dcontext.GetLogger(app).Info("redis not configured")
		return
	}

	app.redis = redis.NewClient(&redis.Options{
		Addr:            config.Redis.Addr,
		Username:        config.Redis.Username,
		Password:        config.Redis.Password,
		DB:              config.Redis.DB,
		DialTimeout:     config.Redis.DialTimeout,
		ReadTimeout:     config.Redis.ReadTimeout,
		WriteTimeout:    config.Redis.WriteTimeout,
		PoolSize:        config.Redis.Pool.MaxActive,
		MaxIdleConns:    config.Redis.Pool.MaxIdle,
		ConnMaxIdleTime: config.Redis.Pool.IdleTimeout,
	})

	// setup expvar
	registry := expvar.Get("registry")
	if registry == nil {
		registry = expvar.NewMap("registry")
	}

	client := app.redis
	registry.(*expvar.Map).Set("redis", expvar.Func(func() interface{} {
		stats := client.PoolStats()
		return map[string]interface{}{
			"Addr":   config.Redis.Addr,
			"DB":     config.Redis.DB,
			"Active": stats.TotalConns - stats.IdleConns,
			"Idle":   stats.IdleConns,
		}
	}))
}

// configureDescriptorCache selects the blob descriptor cache named by
// storage.cache.blobdescriptor. It returns nil when caching is off.
func (app *App) configureDescriptorCache(config *configuration.Configuration) (storage.RegistryOption, error) {
	cc, ok := config.Storage["cache"]
	if !ok {
		return nil, nil
	}

	name, _ := cc["blobdescriptor"].(string)
	switch name {
	case "":
		return nil, nil
	case "redis":
		if app.redis == nil {
			return nil, errors.New("redis configuration required to use for blob descriptor cache")
		}
		dcontext.GetLogger(app).Info("using redis blob descriptor cache")
		return storage.BlobDescriptorCacheProvider(rediscache.NewRedisBlobDescriptorCacheProvider(app.redis)), nil
	}

	size := memorycache.DefaultSize
	if configured, ok := cc["blobdescriptorsize"]; ok {
		if err := mapstructure.WeakDecode(configured, &size); err != nil {
			return nil, fmt.Errorf("storage.cache.blobdescriptorsize: %w", err)
		}
	}

	provider, err := cacheprovider.Get(app, name, map[string]interface{}{
		"params": map[string]interface{}{"size": size},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to configure blob descriptor cache (%s): %w", name, err)
	}
	dcontext.GetLogger(app).Infof("using %s blob descriptor cache", name)
	return storage.BlobDescriptorCacheProvider(provider), nil
}

// configureURLBuilder decides how Location headers are built. They are
// absolute under http.host when one is configured, and absolute paths
// otherwise.
func (app *App) configureURLBuilder(config *configuration.Configuration) error {
	if config.HTTP.Host == "" || config.HTTP.RelativeURLs {
		app.urlBuilder = v2.NewURLBuilder(&url.URL{Path: config.HTTP.Prefix})
		return nil
	}

	u, err := url.Parse(config.HTTP.Host)
	if err != nil {
		return fmt.Errorf("http.host: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("http.host %q must be a fully qualified url", config.HTTP.Host)
	}
	if u.Path == "" {
		u.Path = config.HTTP.Prefix
	}
	app.urlBuilder = v2.NewURLBuilder(u)
	return nil
}

// uploadPurgeOption decodes storage.maintenance.uploadpurging over the
// defaults. Durations may be given as strings such as "168h".
func uploadPurgeOption(config map[string]interface{}) (storage.PurgeOption, error) {
	opt := storage.DefaultPurgeOption()
	if config == nil {
		return opt, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &opt,
	})
	if err != nil {
		return opt, err
	}
	if err := decoder.Decode(config); err != nil {
		return opt, err
	}

	if opt.Enabled && (opt.Age <= 0 || opt.Interval <= 0) {
		return opt, fmt.Errorf("age and interval must be positive, got %s", opt)
	}
	return opt, nil
}

// startUploadPurger schedules a goroutine which will periodically remove
// upload sessions older than the configured age. The first run is delayed
// by up to an hour so that a fleet of registries restarted together does
// not purge in lockstep.
func startUploadPurger(ctx context.Context, reg *storage.Registry, log dcontext.Logger, opt storage.PurgeOption) {
	if !opt.Enabled {
		log.Info("upload purging disabled")
		return
	}

	jitter := rand.N(60 * time.Minute)
	log.Infof("starting upload purge in %s (%s)", jitter.Round(time.Second), opt)

	go func() {
		timer := time.NewTimer(jitter)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			purged, errs := reg.PurgeUploads(ctx, time.Now().Add(-opt.Age), !opt.DryRun)
			log.Infof("purged %d upload(s) with %d error(s)", len(purged), len(errs))
			for _, err := range errs {
				log.Warnf("upload purge: %v", err)
			}

			log.Infof("starting upload purge in %s", opt.Interval)
			timer.Reset(opt.Interval)
		}
	}()
}

func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close() // ensure that request body is always closed.

	ctx := dcontext.WithLogger(r.Context(), dcontext.GetLogger(app))
	ctx = dcontext.WithRequest(ctx, r)
	ctx, w = dcontext.WithResponseWriter(ctx, w)
	r = r.WithContext(ctx)

	defer func() {
		dcontext.GetResponseLogger(ctx).Info("response completed")
	}()

	// Set a header with the Docker Distribution API Version for all responses.
	w.Header().Add("Docker-Distribution-API-Version", "registry/2.0")
	for name, values := range app.Config.HTTP.Headers {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}

	app.router.ServeHTTP(w, r)
}

// dispatchFunc takes a context and request and returns a constructed handler
// for the route. The dispatcher will use this to dynamically create request
// specific handlers for each endpoint without creating a new router for each
// request.
type dispatchFunc func(ctx *Context, r *http.Request) http.Handler

// dispatcher returns a handler that constructs a request specific context and
// handler, using the dispatch factory function.
func (app *App) dispatcher(dispatch dispatchFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		context := app.context(r)

		if err := app.authorized(w, r, context); err != nil {
			dcontext.GetLogger(context).Infof("request not authorized: %v", err)
			return
		}

		if app.nameRequired(r) {
			loc, err := rockslide.ParseImageLocation(context.vars["repository"], context.vars["image"])
			if err != nil {
				context.Errors = append(context.Errors, errcode.ErrorCodeNameInvalid.WithDetail(err.Error()))
				app.serveErrors(context, w)
				return
			}
			context.Location = loc

			// decorate the storage services with an event bridge.
			bridge := app.eventBridge(context, r)
			context.Manifests = notifications.ListenManifests(app.registry.Manifests(), bridge)
			context.Blobs = notifications.ListenBlobs(app.registry.Blobs(), loc, bridge)
			context.Uploads = notifications.ListenUploads(app.registry.Uploads(), loc, bridge)
		}

		dispatch(context, r).ServeHTTP(w, r)

		// Automated error response handling here. Handlers add errors to
		// the context and leave the response to the dispatcher.
		if context.Errors.Len() > 0 {
			app.serveErrors(context, w)
		}
	})
}

func (app *App) serveErrors(context *Context, w http.ResponseWriter) {
	app.logErrors(context, context.Errors)
	if err := errcode.ServeJSON(w, context.Errors); err != nil {
		dcontext.GetLogger(context).Errorf("error serving error json: %v (from %v)", err, context.Errors)
	}
}

// logErrors reports server faults at error level. Client errors are part of
// normal operation and only logged at info.
func (app *App) logErrors(context *Context, errs errcode.Errors) {
	for _, e := range errs {
		var (
			code   errcode.ErrorCode
			detail interface{}
		)
		switch e := e.(type) {
		case errcode.Error:
			code, detail = e.Code, e.Detail
		case errcode.ErrorCoder:
			code = e.ErrorCode()
		default:
			code = errcode.ErrorCodeUnknown
		}

		logger := dcontext.GetLogger(context).WithField("err.code", code.String())
		if detail != nil {
			logger = logger.WithField("err.detail", detail)
		}
		if code.Descriptor().HTTPStatusCode >= http.StatusInternalServerError {
			logger.Error("response completed with error")
		} else {
			logger.Info("response completed with error")
		}
	}
}

// context constructs the context object for the application. This only be
// called once per request.
func (app *App) context(r *http.Request) *Context {
	ctx := dcontext.WithVars(r.Context(), r)

	return &Context{
		App:     app,
		Context: ctx,
		vars:    mux.Vars(r),
	}
}

// authorized checks the credentials of the request. Every route requires a
// valid user; the base route additionally always challenges so that clients
// learn the realm on success too. An error is returned when the request has
// been answered and must not proceed.
func (app *App) authorized(w http.ResponseWriter, r *http.Request, context *Context) error {
	if !app.nameRequired(r) {
		auth.SetChallengeHeaders(w.Header(), app.realm)
	}

	creds, err := auth.CredentialsFromRequest(r)
	if err == nil {
		var user auth.ValidUser
		user, err = auth.Authenticate(context, app.provider, creds)
		if err == nil {
			context.User = user
			context.Context = auth.WithUser(context.Context, user)
			return nil
		}
	}

	if errors.Is(err, auth.ErrMalformedCredentials) {
		errcode.ServeJSON(w, errcode.ErrorCodeCredentialsMalformed)
		return err
	}

	auth.SetChallengeHeaders(w.Header(), app.realm)
	errcode.ServeJSON(w, errcode.ErrorCodeUnauthorized)
	return err
}

// eventBridge returns a bridge for the current request, configured with the
// correct actor and source.
func (app *App) eventBridge(ctx *Context, r *http.Request) notifications.Listener {
	actor := notifications.ActorRecord{
		Name: ctx.User.Username(),
	}
	request := notifications.NewRequestRecord(dcontext.GetRequestID(ctx), r)

	return notifications.NewBridge(app.urlBuilder, app.events.source, actor, request, app.events.sink)
}

// nameRequired returns true if the route requires a name.
func (app *App) nameRequired(r *http.Request) bool {
	route := mux.CurrentRoute(r)
	return route == nil || route.GetName() != v2.RouteNameBase
}

// apiBase implements a simple yes-man for doing overall checks against the
// api. This can support auth roundtrips to support docker login.
func apiBase(w http.ResponseWriter, r *http.Request) {
	const emptyJSON = "{}"
	// Provide a simple /v2/ 200 OK response with empty json response.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", fmt.Sprint(len(emptyJSON)))

	fmt.Fprint(w, emptyJSON)
}
