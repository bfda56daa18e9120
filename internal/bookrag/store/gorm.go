package store

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/bookrag/internal/model"
	postgresopts "github.com/kart-io/bookrag/pkg/options/postgres"
	"github.com/kart-io/bookrag/pkg/errors"
)

// NewPostgresDB 按配置建立 PostgreSQL 连接。
func NewPostgresDB(opts *postgresopts.Options) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(opts.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.ErrDBConnection.WithCause(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.ErrDBConnection.WithCause(err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(opts.MaxConnectionLifeTime)

	return db, nil
}

// AutoMigrate 建立问答服务所需的全部表结构。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Chapter{},
		&model.Chunk{},
		&model.Session{},
		&model.AnswerRecord{},
	)
}

// GormStore 实现基于 GORM 的关系存储。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建关系存储实例。
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// UpsertChapter 按章节号写入章节元数据，已存在时更新。
func (s *GormStore) UpsertChapter(ctx context.Context, chapter *model.Chapter) error {
	var existing model.Chapter
	err := s.db.WithContext(ctx).Where("chapter_number = ?", chapter.ChapterNumber).First(&existing).Error
	switch {
	case err == nil:
		chapter.ID = existing.ID
		chapter.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(chapter).Error; err != nil {
			return errors.ErrDatabase.WithCause(err)
		}
		return nil
	case stderrors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(chapter).Error; err != nil {
			return errors.ErrDatabase.WithCause(err)
		}
		return nil
	default:
		return errors.ErrDatabase.WithCause(err)
	}
}

// ReplaceChunks 在单个事务中原子替换指定章节的全部块记录。
func (s *GormStore) ReplaceChunks(ctx context.Context, chapterNumber int, chunks []*model.Chunk) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chapter_number = ?", chapterNumber).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 100).Error
	})
	if err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// CountChapters 返回已摄取的章节数。
func (s *GormStore) CountChapters(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Chapter{}).Count(&count).Error; err != nil {
		return 0, errors.ErrDatabase.WithCause(err)
	}
	return count, nil
}

// CountChunks 返回已摄取的块总数。
func (s *GormStore) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Chunk{}).Count(&count).Error; err != nil {
		return 0, errors.ErrDatabase.WithCause(err)
	}
	return count, nil
}

// CreateSession 创建会话。
func (s *GormStore) CreateSession(ctx context.Context, session *model.Session) error {
	if session.LastActiveAt.IsZero() {
		session.LastActiveAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// GetSession 按 ID 查询会话。
func (s *GormStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrRAGSessionNotFound.WithMessagef("session %s not found", id)
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return &session, nil
}

// TouchSession 刷新会话的最后活跃时间。
func (s *GormStore) TouchSession(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Update("last_active_at", time.Now()).Error
	if err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// SaveAnswer 持久化一轮问答记录。
func (s *GormStore) SaveAnswer(ctx context.Context, record *model.AnswerRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// ListHistory 按时间升序返回会话的问答历史。
func (s *GormStore) ListHistory(ctx context.Context, sessionID string, limit int) ([]*model.AnswerRecord, error) {
	var records []*model.AnswerRecord
	query := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return records, nil
}

// 确保 GormStore 实现了 BookStore 接口。
var _ BookStore = (*GormStore)(nil)
