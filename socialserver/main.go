package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/bringyour/social/backend"
	"github.com/bringyour/social/social"
)

const SocialServerVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Social reference backend.

The engine stores documents. Accounts and revoked tokens live in the same engine.
With a redis address, documents are cached in redis and changes fan out over redis pubsub.
With kafka brokers, changes fan out over kafka instead.

Environment fallbacks:
    SOCIAL_JWT_SECRET, MONGO_URL, REDIS_ADDR, KAFKA_BROKERS,
    MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY, MINIO_BUCKET,
    OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_SERVICE_NAME

Usage:
    socialserver run [--addr=<addr>] [--jwt_secret=<jwt_secret>]
        [--engine=<engine>] [--sqlite_path=<sqlite_path>]
        [--mongo_url=<mongo_url>] [--mongo_db=<mongo_db>]
        [--redis_addr=<redis_addr>]
        [--kafka_brokers=<kafka_brokers>] [--kafka_topic=<kafka_topic>]
        [--minio_endpoint=<minio_endpoint>] [--minio_bucket=<minio_bucket>]
        [--otel] [-v...]
    socialserver -h | --help
    socialserver --version

Options:
    -h --help                          Show this screen.
    --version                          Show version.
    --addr=<addr>                      Listen address [default: :8080].
    --jwt_secret=<jwt_secret>          HS256 secret for identity tokens.
    --engine=<engine>                  memory, sqlite or mongo [default: memory].
    --sqlite_path=<sqlite_path>        Sqlite database file [default: social.db].
    --mongo_url=<mongo_url>            Mongo connection url.
    --mongo_db=<mongo_db>              Mongo database [default: social].
    --redis_addr=<redis_addr>          Redis address for the cache and change bus.
    --kafka_brokers=<kafka_brokers>    Comma separated kafka brokers for the change bus.
    --kafka_topic=<kafka_topic>        Kafka change topic [default: social-changes].
    --minio_endpoint=<minio_endpoint>  S3 endpoint for blobs. Blobs are kept in memory without it.
    --minio_bucket=<minio_bucket>      Blob bucket [default: social].
    --otel                             Export traces over otlp http.
    -v                                 Verbose logging. Repeat for more.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SocialServerVersion)
	if err != nil {
		panic(err)
	}

	if run_, _ := opts.Bool("run"); run_ {
		run(opts)
	}
}

func envOr(opts docopt.Opts, option string, env string, fallback string) string {
	if value, err := opts.String(option); err == nil && value != "" {
		return value
	}
	if value := os.Getenv(env); value != "" {
		return value
	}
	return fallback
}

func initGlog(verbose int) {
	flag.Set("logtostderr", "true")
	flag.Set("v", fmt.Sprintf("%d", verbose))
}

func initOTEL(ctx context.Context) func(context.Context) error {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = "socialserver"
	}
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		Err.Fatalf("otel exporter: %v", err)
	}
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(SocialServerVersion),
		attribute.String("deployment.environment", "local"),
	))
	tp := trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown
}

func run(opts docopt.Opts) {
	verbose, _ := opts["-v"].(int)
	initGlog(verbose)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// closed in reverse order on exit
	closers := []func(){}
	defer func() {
		for i := len(closers) - 1; 0 <= i; i -= 1 {
			closers[i]()
		}
	}()

	var wrap func(http.Handler) http.Handler
	if otel_, _ := opts.Bool("--otel"); otel_ {
		shutdown := initOTEL(ctx)
		closers = append(closers, func() {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(c)
		})
		wrap = func(handler http.Handler) http.Handler {
			return otelhttp.NewHandler(handler, "socialserver")
		}
	}

	settings := backend.DefaultServerSettings()
	jwtSecret := envOr(opts, "--jwt_secret", "SOCIAL_JWT_SECRET", "")
	if jwtSecret == "" {
		Err.Fatalf("A jwt secret is required (--jwt_secret or SOCIAL_JWT_SECRET)")
	}
	settings.JwtSecret = []byte(jwtSecret)

	engine, closeEngine, err := openEngine(ctx, opts)
	if err != nil {
		Err.Fatalf("Could not open engine: %s", err)
	}
	closers = append(closers, closeEngine)

	var bus social.ChangeBus = social.NewLocalChangeBus()

	redisAddr := envOr(opts, "--redis_addr", "REDIS_ADDR", "")
	kafkaBrokers := envOr(opts, "--kafka_brokers", "KAFKA_BROKERS", "")

	if redisAddr != "" {
		redisSettings := backend.DefaultRedisSettings()
		redisSettings.Addr = redisAddr
		client, err := backend.NewRedisClient(ctx, redisSettings)
		if err != nil {
			Err.Fatalf("Could not connect to redis: %s", err)
		}
		closers = append(closers, func() {
			client.Close()
		})
		engine = backend.NewCachedEngine(engine, client, redisSettings)
		Out.Printf("redis cache: %s", redisAddr)

		if kafkaBrokers == "" {
			redisBus, err := backend.NewRedisChangeBus(ctx, client, redisSettings)
			if err != nil {
				Err.Fatalf("Could not subscribe to redis changes: %s", err)
			}
			closers = append(closers, redisBus.Close)
			bus = redisBus
			Out.Printf("redis change bus: %s", redisAddr)
		}
	}

	if kafkaBrokers != "" {
		kafkaSettings := backend.DefaultKafkaSettings()
		kafkaSettings.Brokers = strings.Split(kafkaBrokers, ",")
		kafkaSettings.Topic, _ = opts.String("--kafka_topic")
		kafkaBus := backend.NewKafkaChangeBus(ctx, kafkaSettings)
		closers = append(closers, func() {
			kafkaBus.Close()
		})
		bus = kafkaBus
		Out.Printf("kafka change bus: %s/%s", kafkaBrokers, kafkaSettings.Topic)
	}

	var blobs backend.BlobEngine
	if minioEndpoint := envOr(opts, "--minio_endpoint", "MINIO_ENDPOINT", ""); minioEndpoint != "" {
		minioSettings := backend.DefaultMinioSettings()
		minioSettings.Endpoint = minioEndpoint
		minioSettings.AccessKey = os.Getenv("MINIO_ACCESS_KEY")
		minioSettings.SecretKey = os.Getenv("MINIO_SECRET_KEY")
		minioSettings.UseSsl = strings.HasPrefix(minioEndpoint, "https://")
		minioSettings.Bucket = envOr(opts, "--minio_bucket", "MINIO_BUCKET", minioSettings.Bucket)
		blobs, err = backend.NewMinioBlobEngine(ctx, minioSettings)
		if err != nil {
			Err.Fatalf("Could not open blob bucket: %s", err)
		}
		Out.Printf("minio blobs: %s/%s", minioEndpoint, minioSettings.Bucket)
	} else {
		blobs = backend.NewMemoryBlobEngine()
	}

	store := social.NewLocalDocumentStore(engine, bus, social.NewStoreClock())
	server := backend.NewServer(ctx, store, blobs, settings)

	// handle Ctrl+C for graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	addr, _ := opts.String("--addr")
	errorCallback := func(err error) {
		Err.Printf("Error running server: %s", err)
		c <- syscall.SIGTERM
	}
	server.Start(addr, wrap, errorCallback)
	Out.Printf("socialserver %s on %s", SocialServerVersion, addr)

	<-c
	Out.Printf("Exiting...")
	if err := server.Shutdown(); err != nil {
		Err.Printf("%s", err)
	}
}

// the returned close func releases the engine
func openEngine(ctx context.Context, opts docopt.Opts) (social.DocumentEngine, func(), error) {
	engineName, _ := opts.String("--engine")
	switch engineName {
	case "memory":
		return social.NewMemoryEngine(), func() {}, nil
	case "sqlite":
		sqlitePath, _ := opts.String("--sqlite_path")
		engine, err := backend.NewSqliteEngine(ctx, sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		Out.Printf("sqlite engine: %s", sqlitePath)
		return engine, func() {
			engine.Close()
		}, nil
	case "mongo":
		mongoSettings := backend.DefaultMongoSettings()
		mongoSettings.Url = envOr(opts, "--mongo_url", "MONGO_URL", mongoSettings.Url)
		mongoSettings.Database, _ = opts.String("--mongo_db")
		engine, err := backend.NewMongoEngine(ctx, mongoSettings)
		if err != nil {
			return nil, nil, err
		}
		Out.Printf("mongo engine: %s/%s", mongoSettings.Url, mongoSettings.Database)
		return engine, func() {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			engine.Close(c)
		}, nil
	default:
		return nil, nil, fmt.Errorf("Unknown engine: %s", engineName)
	}
}
