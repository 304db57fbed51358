package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

// StateService owns the durable store connection. A postgres:// DSN gets the
// full feature set including pgvector semantic search; any other DSN is opened
// with the sqlite driver and semantic search reports unavailable.
type StateService struct {
	db       *gorm.DB
	log      *logger.Logger
	postgres bool
	vectorOK bool
	embedDim int
}

func NewStateService(log *logger.Logger, dsn string, embedDim int) (*StateService, error) {
	serviceLog := log.With("service", "StateService")
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("state backend DSN is empty (set STATE_DB_DSN or DATABASE_URL)")
	}
	if embedDim <= 0 {
		embedDim = 1536
	}

	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	var dialector gorm.Dialector
	if isPostgres {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	serviceLog.Info("Connecting to state backend...", "postgres", isPostgres)
	gdb, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		serviceLog.Error("Failed to connect to state backend", "error", err)
		return nil, fmt.Errorf("connect state backend: %w", err)
	}

	svc := &StateService{db: gdb, log: serviceLog, postgres: isPostgres, embedDim: embedDim}
	if isPostgres {
		if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
			serviceLog.Warn("pgvector extension unavailable, semantic search disabled", "error", err)
		} else {
			svc.vectorOK = true
		}
	}
	return svc, nil
}

func (s *StateService) DB() *gorm.DB { return s.db }

func (s *StateService) IsPostgres() bool { return s.postgres }

// SemanticSearchAvailable reports whether vector similarity queries can run.
func (s *StateService) SemanticSearchAvailable() bool { return s.postgres && s.vectorOK }

func (s *StateService) EmbedDim() int { return s.embedDim }

func (s *StateService) AutoMigrateAll() error {
	s.log.Info("Auto migrating state tables...")
	models := []any{
		&types.ArchiveIndexRow{},
		&types.BotMeta{},
		&types.ResearchRun{},
		&types.ResearchVideo{},
		&types.ResearchVideoFact{},
		&types.ResearchRunTopic{},
		&types.QAHistoryEntry{},
		&types.TranscriptChunkRow{},
	}
	if err := s.db.AutoMigrate(models...); err != nil {
		s.log.Error("Auto migration failed for state tables", "error", err)
		return err
	}

	if s.SemanticSearchAvailable() {
		// The embedding column must be vector(dim); AutoMigrate cannot express
		// it, so the table is created by hand in postgres mode.
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS transcript_chunk_embeddings (
				video_id     varchar(32)  NOT NULL,
				chunk_idx    integer      NOT NULL,
				model        varchar(128) NOT NULL,
				content_hash varchar(64)  NOT NULL DEFAULT '',
				embedding    vector(%d),
				updated_at   timestamptz  NOT NULL DEFAULT now(),
				PRIMARY KEY (video_id, chunk_idx, model)
			)`, s.embedDim)
		if err := s.db.Exec(ddl).Error; err != nil {
			s.log.Error("Failed to create transcript_chunk_embeddings", "error", err)
			return fmt.Errorf("create transcript_chunk_embeddings: %w", err)
		}
	} else {
		if err := s.db.AutoMigrate(&types.TranscriptChunkEmbedding{}); err != nil {
			s.log.Error("Auto migration failed for transcript_chunk_embeddings", "error", err)
			return err
		}
	}
	return nil
}

// IsUniqueViolation reports a postgres duplicate-key failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
