package admin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBackupDir = "backups"
	backupRetention  = 31 * 24 * time.Hour
)

// Backups дампы Postgres: платежи и журнал баланса не удаляются, копия раз в сутки
type Backups struct {
	dsn       string
	dir       string
	retention time.Duration
	// dump подменяется в тестах
	dump func(ctx context.Context, dsn, filename string) error
	log  *zap.Logger
}

func NewBackups(dsn, dir string, log *zap.Logger) *Backups {
	if dir == "" {
		dir = defaultBackupDir
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Backups{dsn: dsn, dir: dir, retention: backupRetention, dump: pgDump, log: log}
}

// pgDump создает дамп БД Postgres в указанный файл
func pgDump(ctx context.Context, dsn, filename string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	out, err := exec.CommandContext(ctx, "pg_dump", dsn, "-Fc", "-f", filename).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_dump: %w: %s", err, out)
	}
	return nil
}

// Backup делает дамп с префиксом (backup_ или autobackup_) и возвращает путь
func (b *Backups) Backup(ctx context.Context, prefix string) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", err
	}
	filename := filepath.Join(b.dir, prefix+"_"+time.Now().Format("20060102_150405")+".dump")
	if err := b.dump(ctx, b.dsn, filename); err != nil {
		return "", err
	}
	return filename, nil
}

// CleanOld удаляет дампы старше срока хранения
func (b *Backups) CleanOld(now time.Time) (int, error) {
	files, err := filepath.Glob(filepath.Join(b.dir, "*backup_*.dump"))
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-b.retention)
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) && os.Remove(f) == nil {
			removed++
		}
	}
	return removed, nil
}

// Auto ежедневный бэкап и чистка из cron
func (b *Backups) Auto(ctx context.Context) error {
	filename, err := b.Backup(ctx, "autobackup")
	if err != nil {
		b.log.Error("auto backup failed", zap.Error(err))
		return err
	}
	if _, err := b.CleanOld(time.Now()); err != nil {
		b.log.Warn("backup cleanup failed", zap.Error(err))
	}
	b.log.Info("auto backup created", zap.String("file", filename))
	return nil
}
