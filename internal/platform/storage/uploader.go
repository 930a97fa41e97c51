package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
)

const defaultProofMaxBytes = 5 << 20

var (
	// ErrUnsupportedContentType is returned for anything other than JPEG, PNG, WebP or PDF.
	ErrUnsupportedContentType = errors.New("storage: content type not allowed")
	// ErrTooLarge is returned when the payload exceeds the configured maximum.
	ErrTooLarge = errors.New("storage: file exceeds maximum size")
	// ErrEmptyUpload is returned when the payload has no bytes.
	ErrEmptyUpload = errors.New("storage: file is empty")

	errInvalidBucket = errors.New("storage: bucket name is required")
)

var proofExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// ObjectAttrs are written alongside the object.
type ObjectAttrs struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// Bucket opens writers for objects in a single bucket.
type Bucket interface {
	Name() string
	NewWriter(ctx context.Context, object string, attrs ObjectAttrs) io.WriteCloser
	// Delete removes the object; a missing object is not an error.
	Delete(ctx context.Context, object string) error
}

type gcsBucket struct {
	handle *gcs.BucketHandle
	name   string
}

// NewGCSBucket wraps a Cloud Storage bucket handle.
func NewGCSBucket(client *gcs.Client, name string) (Bucket, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errInvalidBucket
	}
	return &gcsBucket{handle: client.Bucket(name), name: name}, nil
}

func (b *gcsBucket) Name() string { return b.name }

func (b *gcsBucket) NewWriter(ctx context.Context, object string, attrs ObjectAttrs) io.WriteCloser {
	w := b.handle.Object(object).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.CacheControl = attrs.CacheControl
	w.Metadata = attrs.Metadata
	return w
}

func (b *gcsBucket) Delete(ctx context.Context, object string) error {
	err := b.handle.Object(object).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

// ProofUpload is one payment-proof file received from a client.
type ProofUpload struct {
	StoreID     string
	FileName    string
	ContentType string
	Body        io.Reader
}

// UploadedObject describes a stored object.
type UploadedObject struct {
	Bucket      string
	Object      string
	URL         string
	ContentType string
	Size        int64
}

// MediaUploader validates payment proofs and writes them to the media bucket.
type MediaUploader struct {
	bucket   Bucket
	baseURL  string
	maxBytes int64
	now      func() time.Time
	newID    func() string
}

// UploaderOption customises uploader behaviour.
type UploaderOption func(*MediaUploader)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) UploaderOption {
	return func(u *MediaUploader) {
		if clock != nil {
			u.now = clock
		}
	}
}

// WithIDGenerator overrides the object id source.
func WithIDGenerator(gen func() string) UploaderOption {
	return func(u *MediaUploader) {
		if gen != nil {
			u.newID = gen
		}
	}
}

// NewMediaUploader constructs an uploader. maxBytes <= 0 falls back to 5 MiB.
func NewMediaUploader(bucket Bucket, publicBaseURL string, maxBytes int64, opts ...UploaderOption) (*MediaUploader, error) {
	if bucket == nil || strings.TrimSpace(bucket.Name()) == "" {
		return nil, errInvalidBucket
	}
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if base == "" {
		return nil, errors.New("storage: public base url is required")
	}
	if maxBytes <= 0 {
		maxBytes = defaultProofMaxBytes
	}
	u := &MediaUploader{
		bucket:   bucket,
		baseURL:  base,
		maxBytes: maxBytes,
		now:      time.Now,
		newID:    func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u, nil
}

// MaxBytes reports the accepted upload size.
func (u *MediaUploader) MaxBytes() int64 { return u.maxBytes }

// UploadPaymentProof stores the file under the store's payment-proof prefix and returns its public URL.
// The declared content type must be allowed and must agree with the sniffed bytes.
func (u *MediaUploader) UploadPaymentProof(ctx context.Context, upload ProofUpload) (UploadedObject, error) {
	if u == nil {
		return UploadedObject{}, errInvalidBucket
	}
	if upload.Body == nil {
		return UploadedObject{}, ErrEmptyUpload
	}

	declared, err := normaliseContentType(upload.ContentType)
	if err != nil {
		return UploadedObject{}, err
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(upload.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return UploadedObject{}, fmt.Errorf("storage: read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return UploadedObject{}, ErrEmptyUpload
	}
	sniffed, _ := normaliseContentType(http.DetectContentType(head))
	if declared == "" {
		declared = sniffed
	}
	ext, ok := proofExtensions[declared]
	if !ok || sniffed != declared {
		return UploadedObject{}, ErrUnsupportedContentType
	}

	object, err := BuildObjectPath(PurposePaymentProof, PathParams{
		StoreID:   upload.StoreID,
		ObjectID:  u.newID(),
		Extension: ext,
		At:        u.now(),
	})
	if err != nil {
		return UploadedObject{}, err
	}

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := u.bucket.NewWriter(writeCtx, object, ObjectAttrs{
		ContentType:  declared,
		CacheControl: "private, max-age=0",
		Metadata:     metadataFor(upload),
	})

	body := io.MultiReader(bytes.NewReader(head), upload.Body)
	written, err := io.Copy(w, io.LimitReader(body, u.maxBytes+1))
	if err == nil && written > u.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		// cancelling before Close aborts the resumable upload
		cancel()
		_ = w.Close()
		if errors.Is(err, ErrTooLarge) {
			return UploadedObject{}, err
		}
		return UploadedObject{}, fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return UploadedObject{}, fmt.Errorf("storage: finalise %s: %w", object, err)
	}

	return UploadedObject{
		Bucket:      u.bucket.Name(),
		Object:      object,
		URL:         fmt.Sprintf("%s/%s/%s", u.baseURL, u.bucket.Name(), object),
		ContentType: declared,
		Size:        written,
	}, nil
}

// DeletePaymentProof removes a proof written by UploadPaymentProof. Only objects under the
// payment-proof prefix are accepted.
func (u *MediaUploader) DeletePaymentProof(ctx context.Context, object string) error {
	if u == nil {
		return errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if !strings.HasPrefix(object, "stores/") || !strings.Contains(object, "/payment-proofs/") {
		return fmt.Errorf("storage: %q is not a payment proof", object)
	}
	if err := u.bucket.Delete(ctx, object); err != nil {
		return fmt.Errorf("storage: delete %s: %w", object, err)
	}
	return nil
}

func normaliseContentType(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return "", ErrUnsupportedContentType
	}
	mediaType = strings.ToLower(mediaType)
	if mediaType == "image/jpg" {
		mediaType = "image/jpeg"
	}
	if mediaType == "application/octet-stream" {
		return "", nil
	}
	return mediaType, nil
}

func metadataFor(upload ProofUpload) map[string]string {
	meta := map[string]string{"storeId": strings.TrimSpace(upload.StoreID)}
	if name := strings.TrimSpace(upload.FileName); name != "" {
		meta["originalName"] = name
	}
	return meta
}
