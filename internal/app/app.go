// Package app wires configuration into the running object graph shared by the
// daemon and the CLI.
package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joseph-ayodele/note2tex/internal/async"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/export"
	"github.com/joseph-ayodele/note2tex/internal/latex"
	"github.com/joseph-ayodele/note2tex/internal/layout"
	"github.com/joseph-ayodele/note2tex/internal/models"
	"github.com/joseph-ayodele/note2tex/internal/pipeline"
	"github.com/joseph-ayodele/note2tex/internal/quota"
	"github.com/joseph-ayodele/note2tex/internal/render"
	"github.com/joseph-ayodele/note2tex/internal/repository"
	"github.com/joseph-ayodele/note2tex/internal/services/projects"
	"github.com/joseph-ayodele/note2tex/internal/storage"
)

// NewLogger builds the process logger: text without time/level by default, or JSON.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Remove time and level attributes, keep message and other variables
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// App holds the long-lived components.
type App struct {
	Config *common.Config
	Logger *slog.Logger

	DB        *repository.DB
	Users     repository.UserRepository
	Projects  repository.ProjectRepository
	Usage     repository.UsageRepository
	Ratings   repository.RatingRepository
	Gate      *quota.Gate
	Store     storage.ObjectStore
	Assembler *latex.Assembler
	Clusterer *layout.Clusterer
	Export    *export.Service

	// set by StartWorkers
	Processor *pipeline.Processor
	Queue     *async.ProcessorQueue
	Service   *projects.Service

	closers []func()
}

// New opens the database and object store. Workers are not started.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	db, err := repository.Open(ctx, repository.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, common.WrapError(err, "open database")
	}
	a.DB = db
	a.closers = append(a.closers, func() { repository.Close(db, logger) })

	if err := repository.HealthCheck(ctx, db, 5*time.Second, logger); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = storage.NewRetrying(store, cfg.Storage.UploadRetries, logger)

	a.Users = repository.NewUserRepository(db, logger)
	a.Projects = repository.NewProjectRepository(db, logger)
	a.Usage = repository.NewUsageRepository(db, logger)
	a.Ratings = repository.NewRatingRepository(db, logger)
	a.Gate = quota.NewGate(a.Usage, a.Projects, quota.Config{
		FreeMonthlyPages: cfg.Quota.FreePagesPerMonth,
		FreeMaxProjects:  cfg.Quota.FreeMaxProjects,
	}, logger)
	a.Assembler = latex.NewAssembler(latex.WithLanguage(cfg.Render.Language))
	a.Clusterer = layout.NewClustererWithConfig(layout.Config{
		MinTolerance:     cfg.Layout.MinTolerance,
		ToleranceFactor:  cfg.Layout.ToleranceFactor,
		SpreadRatio:      cfg.Layout.SpreadRatio,
		SpreadInflation:  cfg.Layout.SpreadInflation,
		OverlapThreshold: cfg.Layout.OverlapThreshold,
		OverlapWeight:    cfg.Layout.OverlapWeight,
	})
	a.Export = export.NewService(a.Users, a.Usage, a.Projects, cfg.Quota.FreePagesPerMonth, logger)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (storage.ObjectStore, error) {
	st := a.Config.Storage
	switch strings.ToLower(st.Backend) {
	case "gcs":
		gcs, err := storage.NewGCSStore(ctx, storage.GCSConfig{
			Bucket:          st.GCSBucket,
			Endpoint:        st.GCSEndpoint,
			CredentialsFile: st.GCSCredentialsFile,
			SignedURLTTL:    st.SignedURLTTL,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = gcs.Close() })
		return gcs, nil
	default:
		local, err := storage.NewLocalStore(st.FilesDir, st.FilesBaseURL, a.Logger)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
}

// Handles builds the model capabilities once.
func (a *App) Handles() (models.Handles, error) {
	inf := a.Config.Inference
	client, err := models.NewHTTPClient(models.Config{
		BaseURL:       inf.BaseURL,
		APIKey:        inf.APIKey,
		Timeout:       inf.Timeout,
		DetConf:       inf.DetConf,
		DetIOU:        inf.DetIOU,
		DetImgSize:    inf.DetImgSize,
		DetPad:        inf.DetPad,
		TextMinConf:   inf.TextMinConf,
		Beams:         inf.Beams,
		MaxNewTokens:  inf.MaxNewTokens,
		LengthPenalty: inf.LengthPenalty,
		BinStrength:   inf.BinStrength,
		ErodeKernel:   inf.ErodeKernel,
	}, nil, a.Logger)
	if err != nil {
		return models.Handles{}, err
	}
	handles := client.Handles()

	if strings.EqualFold(inf.TextBackend, "tesseract") {
		tess, err := models.NewTesseractRecognizer(inf.TesseractLanguages, a.Logger)
		if err != nil {
			return models.Handles{}, common.WrapError(err, "tesseract text backend")
		}
		a.closers = append(a.closers, func() { _ = tess.Close() })
		handles.Text = tess
	}
	return handles, handles.Validate()
}

// StartWorkers builds the processor, starts the job queue and the project service.
func (a *App) StartWorkers() error {
	handles, err := a.Handles()
	if err != nil {
		return err
	}
	cfg := a.Config
	if err := os.MkdirAll(cfg.Render.WorkDir, 0o755); err != nil {
		return common.WrapError(err, "create work dir")
	}

	runner := render.ExecRunner{Logger: a.Logger}
	compiler := render.NewCompiler(runner, cfg.Render.PDFLatex, cfg.Render.CompileTimeout, cfg.Render.WorkDir, a.Logger)
	converter := render.NewConverter(runner, cfg.Render.Pandoc, cfg.Render.ConvertTimeout, cfg.Render.WorkDir, a.Logger)
	if !converter.Available() {
		a.Logger.Warn("docx converter not found; DOCX output disabled", "binary", cfg.Render.Pandoc)
	}

	a.Processor = pipeline.NewProcessor(a.Logger, a.Projects, a.Store,
		pipeline.NewRecognizeStage(handles, cfg.Inference.RecognizeConcurrency, cfg.Inference.MaxRegionSide, a.Logger),
		pipeline.NewRenderStage(compiler, converter, a.Logger),
		a.Clusterer, a.Assembler, cfg.Render.WorkDir)

	a.Queue = async.NewProcessorQueue(a.Processor, a.Logger,
		async.WithWorkers(cfg.Worker.Workers),
		async.WithQueueSize(cfg.Worker.QueueSize),
		async.WithProcessTimeout(cfg.Worker.JobTimeout),
	)
	a.Service = projects.NewService(a.Users, a.Projects, a.Ratings, a.Gate, a.Store, a.Queue, a.Logger)
	return nil
}

// Shutdown drains the queue within the configured grace period.
func (a *App) Shutdown() {
	if a.Queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Worker.ShutdownGrace)
	defer cancel()
	a.Queue.Shutdown(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
