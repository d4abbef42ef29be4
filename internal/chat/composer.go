package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/objectstore"
)

const (
	MaxMessageRunes = 2000
	MaxImageSize    = 5 << 20
	ImageBucket     = "chat-images"
)

// Уведомления пользователю. Тексты — часть интерфейса.
const (
	NoticeNotImage     = "Only image files are allowed"
	NoticeImageTooBig  = "Image must be under 5MB"
	NoticeUploadFailed = "Failed to upload image"
)

var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrNotImage      = errors.New(NoticeNotImage)
	ErrImageTooLarge = errors.New(NoticeImageTooBig)
	ErrUploadFailed  = errors.New(NoticeUploadFailed)
	ErrSendInFlight  = errors.New("send already in progress")
)

// Attachment — картинка, выбранная для следующего сообщения.
type Attachment struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// Notifier показывает пользователю временное уведомление.
type Notifier interface {
	Notify(text string)
}

// NotifyFunc — функция как Notifier.
type NotifyFunc func(text string)

func (f NotifyFunc) Notify(text string) { f(text) }

// ComposerHooks связывают поле ввода с остальной комнатой.
type ComposerHooks struct {
	// Send отправляет сообщение (content может быть пустым, если есть картинка).
	Send func(ctx context.Context, content, replyTo, imageURL string) error
	// Typing вызывается при каждом изменении текста.
	Typing func()
	// ReplyTarget — id сообщения, на которое отвечаем, или "".
	ReplyTarget func() string
	// CancelReply сбрасывает ответ после успешной отправки.
	CancelReply func()
}

// Composer хранит черновик: текст и не больше одной картинки.
type Composer struct {
	session  Session
	uploader objectstore.Store
	notifier Notifier
	hooks    ComposerHooks
	now      func() int64

	mu         sync.Mutex
	text       string
	attachment *Attachment
	uploading  bool
}

func NewComposer(session Session, uploader objectstore.Store, notifier Notifier, clock Clock, hooks ComposerHooks) *Composer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Composer{
		session:  session,
		uploader: uploader,
		notifier: notifier,
		hooks:    hooks,
		now:      func() int64 { return clock.Now().UnixMilli() },
	}
}

// SetText заменяет текст черновика (обрезая до MaxMessageRunes) и сигналит о наборе.
func (c *Composer) SetText(text string) {
	c.setText(text, true)
}

func (c *Composer) setText(text string, typing bool) {
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		runes := []rune(text)
		text = string(runes[:MaxMessageRunes])
	}
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
	if typing && c.hooks.Typing != nil {
		c.hooks.Typing()
	}
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Attach проверяет и запоминает картинку. Отклонённый файл не меняет черновик,
// пользователь получает уведомление.
func (c *Composer) Attach(a Attachment) error {
	if a.Size == 0 {
		a.Size = int64(len(a.Data))
	}
	if !strings.HasPrefix(a.ContentType, "image/") {
		c.notify(NoticeNotImage)
		return ErrNotImage
	}
	if a.Size > MaxImageSize {
		c.notify(NoticeImageTooBig)
		return ErrImageTooLarge
	}
	c.mu.Lock()
	c.attachment = &a
	c.mu.Unlock()
	return nil
}

func (c *Composer) Attachment() *Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attachment == nil {
		return nil
	}
	a := *c.attachment
	return &a
}

func (c *Composer) ClearAttachment() {
	c.mu.Lock()
	c.attachment = nil
	c.mu.Unlock()
}

// Uploading — идёт загрузка картинки.
func (c *Composer) Uploading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploading
}

// Send загружает картинку (если есть), отправляет сообщение и очищает черновик.
// Без текста и картинки ничего не делает и возвращает ErrEmptyMessage.
// При ошибке загрузки черновик сохраняется, возвращается ErrUploadFailed.
func (c *Composer) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.uploading {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	text := strings.TrimSpace(c.text)
	att := c.attachment
	if text == "" && att == nil {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	if att != nil {
		c.uploading = true
	}
	c.mu.Unlock()

	var imageURL string
	if att != nil {
		objectPath := c.objectPath(att)
		err := c.uploader.Upload(ctx, objectPath, att.ContentType, bytes.NewReader(att.Data))
		c.mu.Lock()
		c.uploading = false
		c.mu.Unlock()
		if err != nil {
			logger.Errorf("composer: upload %s: %v", objectPath, err)
			c.notify(NoticeUploadFailed)
			return fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
		imageURL = c.uploader.PublicURL(objectPath)
	}

	var replyTo string
	if c.hooks.ReplyTarget != nil {
		replyTo = c.hooks.ReplyTarget()
	}
	if c.hooks.Send != nil {
		if err := c.hooks.Send(ctx, text, replyTo, imageURL); err != nil {
			logger.Errorf("composer: send: %v", err)
		}
	}

	c.mu.Lock()
	c.text = ""
	c.attachment = nil
	c.mu.Unlock()
	if c.hooks.CancelReply != nil {
		c.hooks.CancelReply()
	}
	return nil
}

// objectPath — "<userID>/<unixMillis>.<ext>". Расширение берётся из имени файла,
// а если его нет, из content type.
func (c *Composer) objectPath(a *Attachment) string {
	ext := path.Ext(a.Name)
	if ext == "" {
		ext = objectstore.ExtensionByType(a.ContentType)
	}
	if ext == "" {
		ext = ".bin"
	}
	return c.session.UserID + "/" + strconv.FormatInt(c.now(), 10) + strings.ToLower(ext)
}

func (c *Composer) notify(text string) {
	if c.notifier != nil {
		c.notifier.Notify(text)
	}
}
