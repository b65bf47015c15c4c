package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const uniqueViolation = "23505"

// Store хранилище платежей, пользователей и журнала баланса на Postgres
type Store struct {
	db *gorm.DB
}

// InitDB открывает соединение и применяет миграции
func InitDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("db: DATABASE_URL not set")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	if err := gdb.AutoMigrate(&User{}, &Payment{}, &BalanceEntry{}); err != nil {
		return nil, fmt.Errorf("db: migrate: %w", err)
	}
	return gdb, nil
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
