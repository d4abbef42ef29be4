// Package objectstore хранит вложения сообщений (картинки) в бакетах и отдаёт их публичные URL.
// Локальная реализация (FSStore) держит файлы на диске в сжатом виде; HTTPStore — клиент
// сервиса files, который раздаёт тот же FSStore по HTTP.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
)

var (
	ErrBadPath        = errors.New("objectstore: invalid object path")
	ErrTooLarge       = errors.New("objectstore: object too large")
	ErrContentInvalid = errors.New("objectstore: content does not match type")
	ErrNotFound       = errors.New("objectstore: object not found")
)

// Store — бакет объектного хранилища.
type Store interface {
	// Upload сохраняет объект по пути внутри бакета. Существующий объект перезаписывается.
	Upload(ctx context.Context, objectPath, contentType string, r io.Reader) error
	// PublicURL возвращает адрес, по которому объект доступен без авторизации.
	PublicURL(objectPath string) string
}

// CleanPath проверяет путь объекта: относительный, без "..", без пустых сегментов.
func CleanPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "/")
	if p == "" || strings.Contains(p, "\\") {
		return "", ErrBadPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrBadPath
		}
	}
	return path.Clean(p), nil
}

// ContentTypeByExt — MIME по расширению; пустая строка для неизвестных.
func ContentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".svg":
		return "image/svg+xml"
	}
	return ""
}

// ExtensionByType — расширение (с точкой) для MIME-типа; пустая строка, если тип неизвестен.
func ExtensionByType(contentType string) string {
	ct, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch ct {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	case "image/svg+xml":
		return ".svg"
	}
	if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// blockedExt — исполняемые файлы и скрипты; остальные расширения разрешены.
var blockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true, ".html": true, ".htm": true,
}

// matchMagic сверяет первые байты с сигнатурой формата. Неизвестные форматы пропускаются.
func matchMagic(ext string, head []byte) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".heic":
		return len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")) &&
			(bytes.Equal(head[8:12], []byte("heic")) || bytes.Equal(head[8:12], []byte("heix")) || bytes.Equal(head[8:12], []byte("mif1")))
	case ".bmp":
		return len(head) >= 2 && head[0] == 'B' && head[1] == 'M'
	case ".tif", ".tiff":
		return len(head) >= 4 && (bytes.Equal(head[:4], []byte("II*\x00")) || bytes.Equal(head[:4], []byte("MM\x00*")))
	}
	return true
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, err
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
