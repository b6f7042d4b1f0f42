package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sweetpotato0/esg-rag/config"
	openaiembedder "github.com/sweetpotato0/esg-rag/contrib/embedder/openai"
	"github.com/sweetpotato0/esg-rag/contrib/provider"
	inmemorysession "github.com/sweetpotato0/esg-rag/contrib/session/inmemory"
	"github.com/sweetpotato0/esg-rag/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/esg-rag/contrib/vector/inmemory"
	"github.com/sweetpotato0/esg-rag/contrib/vector/mongo"
	"github.com/sweetpotato0/esg-rag/contrib/vector/pg"
	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/pkg/telemetry"
	"github.com/sweetpotato0/esg-rag/rag/esg"
	"github.com/sweetpotato0/esg-rag/rag/tokenizer"
	"github.com/sweetpotato0/esg-rag/session"
	"github.com/sweetpotato0/esg-rag/session/store"
	"github.com/sweetpotato0/esg-rag/vector"
)

// app owns every long lived dependency of a command.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	pipeline *esg.Pipeline
	sessions *session.Manager
	closers  []func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config) (a *app, err error) {
	a = &app{cfg: cfg, logger: logging.WithComponent("app")}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		Disable:        !cfg.Telemetry.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	gens, err := provider.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return gens.Close() })

	vs, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	a.pipeline, err = esg.New(gens.Answer, vs, cfg,
		esg.WithLogger(logging.WithComponent("pipeline")),
		esg.WithRewriteGenerator(gens.Rewrite),
		esg.WithTokenizer(a.tokenizer()),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.pipeline.Close() })

	return a, nil
}

func (a *app) tokenizer() tokenizer.Tokenizer {
	tok, err := tiktoken.New(a.cfg.LLM.Model)
	if err != nil {
		a.logger.Warn("no BPE encoding for model, approximating token counts", "model", a.cfg.LLM.Model, "error", err)
		return tokenizer.Simple{}
	}
	return tok
}

func (a *app) openStore(ctx context.Context) (vector.Store, error) {
	emb := a.cfg.Embedding
	embedder := openaiembedder.New(emb.APIKey, emb.BaseURL, emb.Model, emb.Dimension, emb.BatchSize)

	sc := a.cfg.Store
	switch sc.Backend {
	case config.BackendInMemory:
		vs := inmemory.NewVectorStore(embedder)
		if sc.CorpusPath == "" {
			a.logger.Warn("in-memory store has no corpus; every retrieval will be empty")
			return vs, nil
		}
		f, err := os.Open(sc.CorpusPath)
		if err != nil {
			return nil, fmt.Errorf("open corpus: %w", err)
		}
		defer f.Close()
		n, err := vs.LoadJSONL(ctx, f, emb.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("load corpus %s: %w", sc.CorpusPath, err)
		}
		a.logger.Info("corpus loaded", "path", sc.CorpusPath, "passages", n)
		return vs, nil

	case config.BackendPGVector:
		vs, err := pg.NewVectorStore(ctx, pg.Config{
			DSN:       sc.Postgres.DSN,
			Dimension: emb.Dimension,
			TableName: sc.Postgres.Table,
			Setup:     sc.Postgres.Setup,
		}, embedder)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return vs.Close() })
		return vs, nil

	case config.BackendMongo:
		vs, err := mongo.NewVectorStore(ctx, mongo.Config{
			URI:        sc.Mongo.URI,
			Database:   sc.Mongo.Database,
			Collection: sc.Mongo.Collection,
			Index:      sc.Mongo.Index,
		}, embedder)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, vs.Close)
		return vs, nil
	}
	return nil, fmt.Errorf("%w: store %q", errorskg.ErrUnsupportedBackend, sc.Backend)
}

// openSessions keeps conversation history in Redis when an address is
// configured and in process memory otherwise.
func (a *app) openSessions(ctx context.Context) (*session.Manager, error) {
	opts := []session.Option{
		session.WithLogger(logging.WithComponent("session")),
		session.WithHistoryLimit(a.cfg.Retrieval.HistoryTurns),
	}
	rc := a.cfg.Redis
	if rc.Addr == "" {
		a.sessions = session.NewManager(inmemorysession.NewStore(), opts...)
		return a.sessions, nil
	}

	rs := store.NewRedisStore(store.RedisConfig{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		Prefix:   rc.Prefix,
		TTL:      rc.TTL,
	})
	if err := rs.Ping(ctx); err != nil {
		_ = rs.Close()
		return nil, fmt.Errorf("connect redis %s: %w", rc.Addr, err)
	}
	a.closers = append(a.closers, func(context.Context) error { return rs.Close() })
	a.sessions = session.NewManager(rs, opts...)
	return a.sessions, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}
	a.closers = nil
}
