// Package storage — утилиты безопасной работы с локальным хранилищем.
// Здесь живут EnsureDir (гарантия каталога) и AtomicWriteFile (атомарная
// запись с fsync). Используются для документа настроек и прочих чувствительных
// файлов, где недопустимы частично записанные данные.
package storage

import (
	"os"
	"path/filepath"

	"github.com/go-faster/errors"

	"telegram-sentinel/internal/infra/logger"
)

// defaultFilePerm — права на итоговый файл при атомарной записи.
// 0o600 ограничивает доступ только владельцу процесса: в настройках лежат
// токены и строка сессии.
const defaultFilePerm = 0o600

// EnsureDir гарантирует наличие каталога для указанного файла.
// Если путь не содержит директорию ("." или пустая строка), ничего не делает.
// Создание выполняется с правами 0o700.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "create dir %s", dir)
	}
	return nil
}

// AtomicWriteFile атомарно записывает данные в файл path с правами defaultFilePerm.
//
// Алгоритм: temp в той же директории → write → fsync(temp) → chmod → close →
// rename → fsync(dir). Либо старый файл остаётся цел, либо новый записан
// полностью. os.Rename атомарен только в пределах одного файлового тома,
// поэтому temp создаётся рядом с целью. fsync каталога — best-effort.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "fsync temp file")
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}

	if err := os.Rename(tmpName, clean); err != nil {
		return errors.Wrap(err, "rename temp file")
	}

	// fsync каталога журналирует запись имени файла; некоторые ФС его игнорируют.
	if dirFile, err := os.Open(dir); err == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warnf("AtomicWriteFile: dir sync error: %v", errSync)
		}
		_ = dirFile.Close()
	}
	return nil
}
