// Package gallery implements the cache-first image gallery of a class.
package gallery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/auth"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/cache"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/pending"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	// MaxImageBytes bounds the size of an uploaded image payload.
	MaxImageBytes = 5 * 1024 * 1024
	// EntryType marks entries whose URL embeds the image as a data URL.
	EntryType = "base64"

	imageIDPrefix       = "img_"
	defaultOriginalName = "Изображение"
)

var (
	errMissingStore = errors.New("store is required")
	errMissingCache = errors.New("cache is required")
	errMissingQueue = errors.New("pending queue is required")

	// ErrNoSession reports a call made before logging in.
	ErrNoSession = errors.New("gallery: no active session")
	// ErrPermissionDenied reports a session that may not change the gallery.
	ErrPermissionDenied = errors.New("gallery: editing is not allowed for this role")
	// ErrNotAnImage reports a content type outside image/*.
	ErrNotAnImage = errors.New("gallery: only images can be uploaded")
	// ErrImageTooLarge reports a payload above MaxImageBytes.
	ErrImageTooLarge = errors.New("gallery: image exceeds 5 MB")
	// ErrEmptyImage reports an upload without payload.
	ErrEmptyImage = errors.New("gallery: image is empty")

	noOpLogger = zap.NewNop()
)

// ServiceError carries a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "gallery.service.new"
	opLoad       = "gallery.load"
	opUpload     = "gallery.upload"
	opDelete     = "gallery.delete"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Queue is the part of the pending queue the service writes to.
type Queue interface {
	Enqueue(change pending.Change) (pending.Change, error)
}

// ServiceConfig wires a Service. NewImageID defaults to img_<ULID>.
type ServiceConfig struct {
	Store      kvstore.Store
	Cache      *cache.Cache
	Queue      Queue
	Clock      func() time.Time
	NewImageID func(time.Time) string
	Logger     *zap.Logger
}

// Service shows the cached gallery immediately and keeps it in step with the store.
type Service struct {
	store      kvstore.Store
	cache      *cache.Cache
	queue      Queue
	clock      func() time.Time
	newImageID func(time.Time) string
	logger     *zap.Logger
}

// NewService validates cfg and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Cache == nil {
		return nil, newServiceError(opServiceNew, "missing_cache", errMissingCache)
	}
	if cfg.Queue == nil {
		return nil, newServiceError(opServiceNew, "missing_queue", errMissingQueue)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newImageID := cfg.NewImageID
	if newImageID == nil {
		newImageID = ulidImageID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      cfg.Store,
		cache:      cfg.Cache,
		queue:      cfg.Queue,
		clock:      clock,
		newImageID: newImageID,
		logger:     logger,
	}, nil
}

func ulidImageID(at time.Time) string {
	return imageIDPrefix + strings.ToLower(ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String())
}

// Subscription is a live view of a class gallery.
type Subscription struct {
	// Live is false when the store could not be reached and only the cache was shown.
	Live bool
	stop func()
	once sync.Once
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// Load hands the cached gallery to onChange at once, then every gallery the store publishes.
// An absent remote gallery is reported as empty without touching the cache.
func (s *Service) Load(ctx context.Context, session *auth.Session, onChange func(classroom.Gallery)) (*Subscription, error) {
	if session == nil {
		return nil, newServiceError(opLoad, "no_session", ErrNoSession)
	}
	class := session.EffectiveClass()
	galleryPath, err := kvstore.GalleryPath(class)
	if err != nil {
		return nil, newServiceError(opLoad, "invalid_class", err)
	}
	if onChange == nil {
		onChange = func(classroom.Gallery) {}
	}

	if cached, ok, err := s.cache.Gallery(class); err != nil {
		s.logError(opLoad, "cache_read_failed", err, zap.String("class", class))
	} else if ok {
		onChange(cached)
	}

	stop, err := s.store.Subscribe(ctx, galleryPath, func(value json.RawMessage) {
		gallery := classroom.Gallery{}
		found, err := kvstore.Decode(value, &gallery)
		if err != nil {
			s.logError(opLoad, "decode_failed", err, zap.String("class", class))
			return
		}
		if !found {
			onChange(classroom.Gallery{})
			return
		}
		if err := s.cache.SaveGallery(class, gallery); err != nil {
			s.logError(opLoad, "cache_write_failed", err, zap.String("class", class))
		}
		onChange(gallery)
	})
	if err != nil {
		s.loggerOrDefault().Warn("gallery subscription unavailable, showing cache",
			zap.String("operation", opLoad),
			zap.String("class", class),
			zap.Error(err))
		return &Subscription{Live: false}, nil
	}
	return &Subscription{Live: true, stop: stop}, nil
}

// Cached returns the gallery the cache holds for the session's class.
func (s *Service) Cached(session *auth.Session) (classroom.Gallery, error) {
	if session == nil {
		return nil, newServiceError(opLoad, "no_session", ErrNoSession)
	}
	gallery, _, err := s.cache.Gallery(session.EffectiveClass())
	if gallery == nil {
		gallery = classroom.Gallery{}
	}
	return gallery, err
}

// UploadRequest is one image picked by the user.
type UploadRequest struct {
	Payload      []byte
	OriginalName string
	ContentType  string
}

// Result describes where a gallery change ended up.
type Result struct {
	ImageID   string
	Entry     classroom.ImageEntry
	Synced    bool
	PendingID string
}

// Upload validates the image, caches it, then writes it to the store; offline uploads are queued.
func (s *Service) Upload(ctx context.Context, session *auth.Session, request UploadRequest) (Result, error) {
	if session == nil {
		return Result{}, newServiceError(opUpload, "no_session", ErrNoSession)
	}
	if !auth.CanEdit(session) {
		return Result{}, newServiceError(opUpload, "permission_denied", ErrPermissionDenied)
	}
	contentType := strings.ToLower(strings.TrimSpace(request.ContentType))
	if !strings.HasPrefix(contentType, "image/") {
		return Result{}, newServiceError(opUpload, "not_an_image", ErrNotAnImage)
	}
	if len(request.Payload) == 0 {
		return Result{}, newServiceError(opUpload, "empty_image", ErrEmptyImage)
	}
	if len(request.Payload) > MaxImageBytes {
		return Result{}, newServiceError(opUpload, "image_too_large", ErrImageTooLarge)
	}

	class := session.EffectiveClass()
	now := s.clock()
	imageID := s.newImageID(now)
	imagePath, err := kvstore.ImagePath(class, imageID)
	if err != nil {
		return Result{}, newServiceError(opUpload, "invalid_path", err)
	}

	originalName := strings.TrimSpace(request.OriginalName)
	if originalName == "" {
		originalName = defaultOriginalName
	}
	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(request.Payload)
	entry := classroom.ImageEntry{
		URL:          dataURL,
		FileName:     imageID,
		OriginalName: originalName,
		UploadedBy:   auth.KeyFingerprint(session.Key),
		UploadedAt:   classroom.FormatLastUpdate(now),
		Timestamp:    now.UnixMilli(),
		Type:         EntryType,
		Size:         int64(len(dataURL)),
	}

	if err := s.cache.AddImage(class, imageID, entry); err != nil {
		s.logError(opUpload, "cache_write_failed", err, zap.String("class", class))
		return Result{}, newServiceError(opUpload, "cache_write_failed", err)
	}

	result := Result{ImageID: imageID, Entry: entry}
	if err := s.store.Set(ctx, imagePath, entry); err != nil {
		if kvstore.IsPermanent(err) {
			s.logError(opUpload, "store_rejected", err, zap.String("image_id", imageID))
			return result, newServiceError(opUpload, "store_rejected", err)
		}
		data, encodeErr := json.Marshal(entry)
		if encodeErr != nil {
			return result, newServiceError(opUpload, "encode_failed", encodeErr)
		}
		queued, queueErr := s.queue.Enqueue(pending.Change{
			Kind:     pending.KindGalleryAdd,
			Class:    class,
			FileName: imageID,
			Data:     data,
		})
		if queueErr != nil {
			s.logError(opUpload, "enqueue_failed", queueErr, zap.String("image_id", imageID))
			return result, newServiceError(opUpload, "enqueue_failed", queueErr)
		}
		s.loggerOrDefault().Warn("image saved locally, store unreachable",
			zap.String("operation", opUpload),
			zap.String("image_id", imageID),
			zap.String("pending_id", queued.ID),
			zap.Error(err))
		result.PendingID = queued.ID
		return result, nil
	}
	result.Synced = true
	return result, nil
}

// Delete removes an image from the cache, then from the store; offline deletes are queued.
func (s *Service) Delete(ctx context.Context, session *auth.Session, imageID string) (Result, error) {
	if session == nil {
		return Result{}, newServiceError(opDelete, "no_session", ErrNoSession)
	}
	if !auth.CanEdit(session) {
		return Result{}, newServiceError(opDelete, "permission_denied", ErrPermissionDenied)
	}
	class := session.EffectiveClass()
	imagePath, err := kvstore.ImagePath(class, imageID)
	if err != nil {
		return Result{}, newServiceError(opDelete, "invalid_path", err)
	}

	if err := s.cache.DeleteImage(class, imageID); err != nil {
		s.logError(opDelete, "cache_write_failed", err, zap.String("class", class))
		return Result{}, newServiceError(opDelete, "cache_write_failed", err)
	}

	result := Result{ImageID: imageID}
	if err := s.store.Delete(ctx, imagePath); err != nil {
		if kvstore.IsPermanent(err) {
			s.logError(opDelete, "store_rejected", err, zap.String("image_id", imageID))
			return result, newServiceError(opDelete, "store_rejected", err)
		}
		queued, queueErr := s.queue.Enqueue(pending.Change{
			Kind:     pending.KindGalleryDelete,
			Class:    class,
			FileName: imageID,
		})
		if queueErr != nil {
			s.logError(opDelete, "enqueue_failed", queueErr, zap.String("image_id", imageID))
			return result, newServiceError(opDelete, "enqueue_failed", queueErr)
		}
		s.loggerOrDefault().Warn("image deleted locally, store unreachable",
			zap.String("operation", opDelete),
			zap.String("image_id", imageID),
			zap.String("pending_id", queued.ID),
			zap.Error(err))
		result.PendingID = queued.ID
		return result, nil
	}
	result.Synced = true
	return result, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("gallery service error", attrs...)
}
